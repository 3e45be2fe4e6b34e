// Package ingest turns GitHub activity into deployment requests: push
// webhooks as they arrive, and GitHub Deployments imported in bulk.
package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"

	"deploymetrics/internal/deployment"
)

const (
	// Source marks deployments and changes that came from GitHub
	Source = "github"

	// PushEventType is the change event type of commits taken from a push
	PushEventType = "push"

	// MaxPayloadBytes bounds webhook bodies
	MaxPayloadBytes = 1_000_000 // 1 MB
)

var (
	// ErrIgnoredEvent marks webhook deliveries that never become a deployment
	ErrIgnoredEvent = errors.New("ingest: event ignored")

	// ErrInvalidSignature marks webhook deliveries whose signature did not verify
	ErrInvalidSignature = errors.New("ingest: invalid signature")

	// ErrInvalidPayload marks webhook deliveries that could not be decoded
	ErrInvalidPayload = errors.New("ingest: invalid payload")

	// ErrPayloadTooLarge marks webhook deliveries over MaxPayloadBytes
	ErrPayloadTooLarge = errors.New("ingest: payload too large")
)

// ParsePush validates a GitHub webhook delivery against secret and decodes
// it as a push event. Other event types return ErrIgnoredEvent. An empty
// secret skips verification of unsigned deliveries.
func ParsePush(r *http.Request, secret []byte) (*github.PushEvent, error) {
	eventType := github.WebHookType(r)
	if eventType != "push" {
		return nil, fmt.Errorf("%w: %q is not a push", ErrIgnoredEvent, eventType)
	}

	r.Body = http.MaxBytesReader(nil, r.Body, MaxPayloadBytes)
	payload, err := github.ValidatePayload(r, secret)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w (limit %d bytes)", ErrPayloadTooLarge, maxErr.Limit)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	push, ok := event.(*github.PushEvent)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected event %T", ErrInvalidPayload, event)
	}
	return push, nil
}

// PushRequest converts a push event into a deployment request for
// applicationID. Every pushed commit becomes one change. The deployment is
// timestamped with the head commit, or with received when the head commit
// carries no timestamp. Branch deletions return ErrIgnoredEvent.
func PushRequest(event *github.PushEvent, applicationID string, received time.Time) (*deployment.Request, error) {
	if event.GetDeleted() {
		return nil, fmt.Errorf("%w: branch %s deleted", ErrIgnoredEvent, event.GetRef())
	}

	repo := event.GetRepo().GetFullName()
	after := event.GetAfter()
	if repo == "" || after == "" {
		return nil, fmt.Errorf("%w: push without repository or head sha", ErrInvalidPayload)
	}

	created := event.GetHeadCommit().GetTimestamp().Time
	if created.IsZero() {
		created = received
	}

	changes := make([]deployment.ChangeRequest, 0, len(event.Commits))
	for _, c := range event.Commits {
		changeCreated := c.GetTimestamp().Time
		if changeCreated.IsZero() {
			changeCreated = created
		}
		changes = append(changes, deployment.ChangeRequest{
			ID:        c.GetID(),
			Created:   changeCreated,
			Source:    Source,
			EventType: PushEventType,
		})
	}

	return &deployment.Request{
		DeploymentID:   repo + "@" + after,
		DeploymentDesc: event.GetHeadCommit().GetMessage(),
		ApplicationID:  applicationID,
		RFCID:          event.GetRef(),
		Created:        created,
		Source:         Source,
		Changes:        changes,
	}, nil
}
