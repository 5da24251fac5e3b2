package engine

import (
	"context"
	"errors"

	"refportal/internal/attachment"
	"refportal/internal/repo"
	"refportal/internal/session"
	"refportal/internal/workflow"
)

var errNoAttachmentStore = errors.New("attachment storage not configured")

func (e Engine) attachmentLimits() attachment.Limits {
	cfg := e.cfg()
	return attachment.Limits{MaxBytes: cfg.Attachments.MaxBytes, Extensions: cfg.Extensions()}
}

func (e Engine) storeAttachment(ctx context.Context, ownerID, name string, data []byte) (string, error) {
	if e.Attachments == nil {
		return "", errNoAttachmentStore
	}
	if _, err := e.attachmentLimits().Check(name, int64(len(data))); err != nil {
		return "", err
	}
	return e.Attachments.Put(ctx, ownerID, name, data)
}

// UploadAttachment stores a file under the session actor and returns its ref.
func (e Engine) UploadAttachment(ctx context.Context, s session.Session, name string, data []byte) (string, error) {
	if err := requireSession(s); err != nil {
		return "", err
	}
	ref, err := e.storeAttachment(ctx, s.ActorID(), name, data)
	if err != nil {
		e.Metrics.IncAttachmentFailure()
		return "", &workflow.AttachmentError{Name: name, Err: err}
	}
	return ref, nil
}

// DownloadAttachment returns a file to hr or to the employee who owns it.
func (e Engine) DownloadAttachment(ctx context.Context, s session.Session, ref string) ([]byte, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	if !s.IsHR() && attachment.Owner(ref) != s.ActorID() {
		return nil, repo.ErrNotFound
	}
	if e.Attachments == nil {
		return nil, errNoAttachmentStore
	}
	data, err := e.Attachments.Get(ctx, ref)
	if errors.Is(err, attachment.ErrNotFound) || errors.Is(err, attachment.ErrInvalidRef) {
		return nil, repo.ErrNotFound
	}
	return data, err
}
