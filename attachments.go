// attachments.go
package secretariat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxAttachmentBytes is the per-file size limit.
const MaxAttachmentBytes = 10 << 20

var allowedAttachmentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"text/csv",
}

func attachmentTypeAllowed(mime string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	if strings.HasPrefix(base, "image/") {
		return true
	}
	return slices.Contains(allowedAttachmentTypes, base)
}

// AttachmentStrategy decides when staged files reach the backend.
type AttachmentStrategy string

const (
	// AttachmentsDeferred uploads everything once the appointment exists.
	AttachmentsDeferred AttachmentStrategy = "deferred"
	// AttachmentsImmediate uploads at stage time when an owner id is known.
	AttachmentsImmediate AttachmentStrategy = "immediate"
)

// FileUpload is a file picked by the user. SizeBytes is the declared size;
// MimeType is sniffed from Data when empty.
type FileUpload struct {
	Name           string
	SizeBytes      int64
	MimeType       string
	AttachmentType AttachmentType
	Data           []byte
}

// FileRejection is the per-file message for a file that was not accepted or not uploaded.
type FileRejection struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// StageResult lists the files uploaded right away and the ones refused.
type StageResult struct {
	Uploaded []Attachment    `json:"uploaded,omitempty"`
	Rejected []FileRejection `json:"rejected,omitempty"`
}

// CommitResult is the outcome of uploading the staged list.
type CommitResult struct {
	Uploaded []Attachment    `json:"uploaded"`
	Failed   []FileRejection `json:"failed,omitempty"`
}

func (r CommitResult) OK() bool { return len(r.Failed) == 0 }

// AttachmentStager buffers files in memory until they can be uploaded.
// Like the attendee collection it relies on the owning wizard's lock.
type AttachmentStager struct {
	uploader AttachmentUploader
	strategy AttachmentStrategy
	owner    int64
	staged   []StagedFile
}

func NewAttachmentStager(up AttachmentUploader, strategy AttachmentStrategy) *AttachmentStager {
	if strategy == "" {
		strategy = AttachmentsDeferred
	}
	return &AttachmentStager{uploader: up, strategy: strategy}
}

// SetOwner binds the stager to an existing appointment.
func (s *AttachmentStager) SetOwner(id int64) { s.owner = id }

// Immediate reports whether files are uploaded at stage time.
func (s *AttachmentStager) Immediate() bool { return s.strategy == AttachmentsImmediate }

func (s *AttachmentStager) Staged() []StagedFile {
	out := make([]StagedFile, len(s.staged))
	copy(out, s.staged)
	return out
}

func (s *AttachmentStager) Len() int { return len(s.staged) }

// Stage validates each file and appends the accepted ones in order. With the
// immediate strategy and a known owner they are uploaded instead.
func (s *AttachmentStager) Stage(ctx context.Context, files []FileUpload) StageResult {
	var res StageResult
	var accepted []StagedFile
	for _, f := range files {
		sf, msg := checkFile(f)
		if msg != "" {
			res.Rejected = append(res.Rejected, FileRejection{Name: f.Name, Message: msg})
			continue
		}
		accepted = append(accepted, sf)
	}

	if s.Immediate() && s.owner != 0 {
		for _, sf := range accepted {
			att, err := s.uploader.UploadAttachment(ctx, s.owner, sf)
			if err != nil {
				attachmentUploads.WithLabelValues("error").Inc()
				res.Rejected = append(res.Rejected, FileRejection{
					Name:    sf.Name,
					Message: UserMessage(err, fmt.Sprintf("Failed to upload %s", sf.Name)),
				})
				continue
			}
			attachmentUploads.WithLabelValues("ok").Inc()
			res.Uploaded = append(res.Uploaded, *att)
		}
		return res
	}

	s.staged = append(s.staged, accepted...)
	return res
}

func checkFile(f FileUpload) (StagedFile, string) {
	size := f.SizeBytes
	if n := int64(len(f.Data)); n > size {
		size = n
	}
	if size > MaxAttachmentBytes {
		return StagedFile{}, fmt.Sprintf("%s exceeds the 10 MB size limit", f.Name)
	}
	mime := strings.TrimSpace(f.MimeType)
	if mime == "" && len(f.Data) > 0 {
		mime = mimetype.Detect(f.Data).String()
	}
	if !attachmentTypeAllowed(mime) {
		return StagedFile{}, fmt.Sprintf("%s has an unsupported file type", f.Name)
	}
	attType := f.AttachmentType
	if attType == "" {
		attType = AttachmentGeneral
	}
	return StagedFile{
		ID:             uuid.NewString(),
		Name:           f.Name,
		SizeBytes:      size,
		MimeType:       mime,
		AttachmentType: attType,
		Data:           f.Data,
	}, ""
}

// Unstage removes the file at index.
func (s *AttachmentStager) Unstage(index int) (StagedFile, error) {
	if index < 0 || index >= len(s.staged) {
		return StagedFile{}, fmt.Errorf("attachment %d: %w", index, ErrNotFound)
	}
	removed := s.staged[index]
	s.staged = append(s.staged[:index], s.staged[index+1:]...)
	return removed, nil
}

// Commit uploads staged files one at a time in order. A failed file does not
// stop the rest; uploads that succeeded are not rolled back. progress receives
// completed/total*100 after each attempt. The staged list is emptied.
func (s *AttachmentStager) Commit(ctx context.Context, ownerID int64, progress func(pct int)) (CommitResult, error) {
	files := s.staged
	s.staged = nil
	var res CommitResult
	total := len(files)
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, FileRejection{Name: f.Name, Message: "Upload cancelled"})
		} else if att, err := s.uploader.UploadAttachment(ctx, ownerID, f); err != nil {
			attachmentUploads.WithLabelValues("error").Inc()
			Logger().Warn("attachment_upload_failed",
				zap.Int64("appointment_id", ownerID),
				zap.String("file", f.Name),
				zap.Error(err))
			res.Failed = append(res.Failed, FileRejection{
				Name:    f.Name,
				Message: UserMessage(err, fmt.Sprintf("Failed to upload %s", f.Name)),
			})
		} else {
			attachmentUploads.WithLabelValues("ok").Inc()
			res.Uploaded = append(res.Uploaded, *att)
		}
		if progress != nil {
			progress((i + 1) * 100 / total)
		}
	}
	if !res.OK() {
		return res, fmt.Errorf("%d of %d attachments: %w", len(res.Failed), total, ErrUploadIncomplete)
	}
	return res, nil
}
