// refdata.go
package secretariat

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ReferenceData bundles the read-only configuration feeds used to build and
// validate drafts and the review card.
type ReferenceData struct {
	StatusMap        StatusMap              `json:"status_map"`
	SubStatusMap     SubStatusMap           `json:"sub_status_map"`
	StatusSubStatus  StatusSubStatusMapping `json:"status_substatus_mapping"`
	Locations        []Location             `json:"locations"`
	Countries        []Country              `json:"countries"`
	TimeOfDayOptions []string               `json:"time_of_day_options"`
	RequestTypes     []RequestTypeConfig    `json:"request_types"`
}

// RequestTypeConfig looks up the configuration of a request type.
func (r ReferenceData) RequestTypeConfig(t RequestType) (RequestTypeConfig, bool) {
	for _, c := range r.RequestTypes {
		if c.RequestType == t {
			return c, true
		}
	}
	return RequestTypeConfig{}, false
}

func (r ReferenceData) HasLocation(id int64) bool {
	for _, l := range r.Locations {
		if l.ID == id {
			return true
		}
	}
	return false
}

func (r ReferenceData) HasTimeOfDay(v string) bool {
	if len(r.TimeOfDayOptions) == 0 {
		return true
	}
	for _, o := range r.TimeOfDayOptions {
		if o == v {
			return true
		}
	}
	return false
}

const refDataKey = "reference-data"

// ReferenceLoader fetches all feeds concurrently and keeps them for a TTL.
type ReferenceLoader struct {
	cache *cache.Cache
	group singleflight.Group
}

func NewReferenceLoader(ttl time.Duration) *ReferenceLoader {
	return &ReferenceLoader{cache: cache.New(ttl, 2*ttl)}
}

// Get returns cached reference data or loads it through api.
func (l *ReferenceLoader) Get(ctx context.Context, api ReferenceAPI) (ReferenceData, error) {
	if v, ok := l.cache.Get(refDataKey); ok {
		return v.(ReferenceData), nil
	}
	v, err, _ := l.group.Do(refDataKey, func() (any, error) {
		data, err := fetchReferenceData(ctx, api)
		if err != nil {
			return nil, err
		}
		l.cache.Set(refDataKey, data, cache.DefaultExpiration)
		return data, nil
	})
	if err != nil {
		return ReferenceData{}, err
	}
	return v.(ReferenceData), nil
}

// Invalidate drops the cached feeds so the next Get refetches them.
func (l *ReferenceLoader) Invalidate() { l.cache.Delete(refDataKey) }

func fetchReferenceData(ctx context.Context, api ReferenceAPI) (ReferenceData, error) {
	var data ReferenceData
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data.StatusMap, err = api.StatusOptionsMap(ctx)
		return wrapFeed("status options", err)
	})
	g.Go(func() (err error) {
		data.SubStatusMap, err = api.SubStatusOptionsMap(ctx)
		return wrapFeed("sub-status options", err)
	})
	g.Go(func() (err error) {
		data.StatusSubStatus, err = api.StatusSubStatusMapping(ctx)
		return wrapFeed("status/sub-status mapping", err)
	})
	g.Go(func() (err error) {
		data.Locations, err = api.Locations(ctx)
		return wrapFeed("locations", err)
	})
	g.Go(func() (err error) {
		data.Countries, err = api.Countries(ctx)
		return wrapFeed("countries", err)
	})
	g.Go(func() (err error) {
		data.TimeOfDayOptions, err = api.TimeOfDayOptions(ctx)
		return wrapFeed("time of day options", err)
	})
	g.Go(func() (err error) {
		data.RequestTypes, err = api.RequestTypeConfigs(ctx)
		return wrapFeed("request type configurations", err)
	})
	if err := g.Wait(); err != nil {
		return ReferenceData{}, err
	}
	return data, nil
}

func wrapFeed(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("load %s: %w", name, err)
}
