package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/crm"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/media"
)

// MessagePrefix starts every inbound message the pipeline posts.
const MessagePrefix = "Transcription of audio: "

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

// Transcoder converts container media to an audio-only format.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, from, to string) ([]byte, error)
}

// Fetcher downloads attachment bodies. *Downloader implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Downloaded, error)
}

// Counters records outcome totals. Errors are logged by the implementation.
type Counters interface {
	Add(ctx context.Context, outcome string, n int64)
}

// Request is one webhook event's worth of attachments. Token is the snapshot
// taken at event start and used for every CRM call of the event.
type Request struct {
	Token          string
	LocationID     string
	ConversationID string
	ContactID      string
	MessageType    string
	Attachments    []Attachment
}

// Pipeline runs attachments through download, normalize, transcribe and
// deliver.
type Pipeline struct {
	fetch       Fetcher
	transcoder  Transcoder
	transcriber Transcriber
	crm         CRM
	fields      *FieldResolver
	counters    Counters

	work         *semaphore.Weighted
	writeRetries int
	retryBackoff time.Duration
	now          func() time.Time
}

type Option func(*Pipeline)

// WithConcurrency bounds simultaneous transcode+transcribe work process wide.
func WithConcurrency(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.work = semaphore.NewWeighted(n)
		}
	}
}

func WithWriteRetries(n int, backoff time.Duration) Option {
	return func(p *Pipeline) {
		p.writeRetries = n
		p.retryBackoff = backoff
	}
}

func WithCounters(c Counters) Option {
	return func(p *Pipeline) { p.counters = c }
}

func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(fetch Fetcher, transcoder Transcoder, transcriber Transcriber, client CRM, fields *FieldResolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetch:        fetch,
		transcoder:   transcoder,
		transcriber:  transcriber,
		crm:          client,
		fields:       fields,
		work:         semaphore.NewWeighted(2),
		writeRetries: 2,
		retryBackoff: 500 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fields exposes the resolver so installation can pre-create the field.
func (p *Pipeline) Fields() *FieldResolver {
	return p.fields
}

// Run processes every attachment in order. A failing attachment never stops
// the ones after it.
func (p *Pipeline) Run(ctx context.Context, req Request) *Report {
	report := &Report{EventID: uuid.NewString(), Results: make([]AttachmentResult, 0, len(req.Attachments))}
	log.Infof("[Pipeline] Event %s: %d attachment(s) for conversation %s (%s)",
		report.EventID, len(req.Attachments), req.ConversationID, req.MessageType)

	ev := &eventState{}
	for i, att := range req.Attachments {
		res := p.process(ctx, req, ev, i, att)
		if res.Stage == StageDropped {
			log.Warnf("[Pipeline] Event %s: attachment %d dropped (%s): %v", report.EventID, i, res.DropReason, res.Err)
			p.count(ctx, "dropped_"+res.DropReason)
		} else {
			p.count(ctx, "delivered")
			for _, f := range res.Failures {
				log.Errorf("[Pipeline] Event %s: attachment %d %s failed: %v", report.EventID, i, f.Write, f.Err)
				p.count(ctx, "delivery_failed_"+f.Write)
			}
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// eventState holds what is cached for the remainder of one event.
type eventState struct {
	fieldID string
}

func (p *Pipeline) process(ctx context.Context, req Request, ev *eventState, index int, att Attachment) AttachmentResult {
	res := AttachmentResult{Index: index, URL: att.URL, Stage: StageDiscovered}
	drop := func(err error) AttachmentResult {
		res.Stage = StageDropped
		res.Err = err
		res.DropReason = DropReason(err)
		return res
	}

	u, err := att.Resolve()
	if err != nil {
		return drop(&MalformedAttachmentError{Index: index, Err: err})
	}
	res.URL = u.String()

	dl, err := p.fetch.Fetch(ctx, res.URL)
	if err != nil {
		return drop(err)
	}
	res.Stage = StageDownloaded

	contentType := dl.ContentType
	if contentType == "" {
		contentType = att.ContentType
	}
	kind, mimeType, err := media.Classify(contentType, att.FileName(), head(dl.Data))
	if err != nil {
		return drop(&UnsupportedFormatError{URL: res.URL, ContentType: mimeType})
	}
	res.MimeType = mimeType

	if err := p.work.Acquire(ctx, 1); err != nil {
		return drop(&CancelledError{Stage: StageDownloaded, Err: err})
	}
	audio, audioType := dl.Data, mimeType
	if kind == media.KindContainer {
		audio, err = p.transcoder.Transcode(ctx, dl.Data, mimeType, media.TranscodeTarget)
		if err != nil {
			p.work.Release(1)
			return drop(&TranscodeError{From: mimeType, Err: err})
		}
		audioType = media.TranscodeTarget
	}
	res.Stage = StageNormalized

	text, err := p.transcriber.Transcribe(ctx, audio, media.FileName(att.FileName(), audioType))
	p.work.Release(1)
	if err != nil {
		return drop(&TranscriptionError{Err: err})
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return drop(&TranscriptionError{Err: errors.New("empty transcript")})
	}
	res.Stage = StageTranscribed
	res.Result = &TranscriptionResult{SourceURL: res.URL, TranscriptText: text, ProducedAt: p.now().UTC()}

	res.Failures = p.deliver(ctx, req, ev, text)
	res.Stage = StageDelivered
	return res
}

// deliver performs the two independent CRM writes. Neither rolls back the other.
func (p *Pipeline) deliver(ctx context.Context, req Request, ev *eventState, text string) []DeliveryFailure {
	var failures []DeliveryFailure

	err := p.retry(ctx, func() error {
		_, err := p.crm.PostInboundMessage(ctx, req.Token, req.ConversationID, MessagePrefix+text, req.MessageType)
		return err
	})
	if err != nil {
		failures = append(failures, DeliveryFailure{Write: "inbound_message", Err: err})
	}

	if err := p.updateContact(ctx, req, ev, text); err != nil {
		failures = append(failures, DeliveryFailure{Write: "contact_field", Err: err})
	}
	return failures
}

func (p *Pipeline) updateContact(ctx context.Context, req Request, ev *eventState, text string) error {
	if req.ContactID == "" {
		return errors.New("event has no contact id")
	}
	if req.LocationID == "" {
		return errors.New("no location id known for this event")
	}

	err := p.writeContactField(ctx, req, ev, text)
	if crm.IsKind(err, crm.KindNotFound) {
		// The cached field id pointed at a deleted field; resolve it again once.
		log.Warnf("[Pipeline] %s field %s missing for location %s, resolving again",
			crm.TranscriptionFieldName, ev.fieldID, req.LocationID)
		p.fields.Forget(ctx, req.LocationID)
		ev.fieldID = ""
		err = p.writeContactField(ctx, req, ev, text)
		if crm.IsKind(err, crm.KindNotFound) {
			p.fields.Forget(ctx, req.LocationID)
			ev.fieldID = ""
		}
	}
	return err
}

func (p *Pipeline) writeContactField(ctx context.Context, req Request, ev *eventState, text string) error {
	if ev.fieldID == "" {
		id, err := p.fields.Ensure(ctx, req.Token, req.LocationID)
		if err != nil {
			return fmt.Errorf("ensure %s field: %w", crm.TranscriptionFieldName, err)
		}
		ev.fieldID = id
	}
	return p.retry(ctx, func() error {
		return p.crm.UpdateContactField(ctx, req.Token, req.ContactID, ev.fieldID, text)
	})
}

// retry repeats fn while it fails with a transient upstream error.
func (p *Pipeline) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.writeRetries; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, p.retryBackoff*time.Duration(1<<(attempt-1))); serr != nil {
				return err
			}
		}
		if err = fn(); err == nil || !crm.IsTransient(err) {
			return err
		}
	}
	return err
}

func (p *Pipeline) count(ctx context.Context, outcome string) {
	if p.counters != nil {
		p.counters.Add(ctx, outcome, 1)
	}
}

func head(b []byte) []byte {
	const n = 3072
	if len(b) > n {
		return b[:n]
	}
	return b
}
