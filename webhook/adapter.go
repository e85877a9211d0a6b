// Package webhook receives ticketing-system events over HTTP and turns
// human replies into resume requests on the execution queue.
//
// The adapter is the only inbound surface: payloads are authenticated
// with an HMAC-SHA256 signature, the comment is parsed into a
// structured reply, and the reply is attached to the suspended work
// item through the queue. Anything that cannot be authenticated,
// parsed, or matched to a suspended item is rejected here and never
// reaches a worker.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/collab"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/queue"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// prefixed with the scheme, e.g. "sha256=deadbeef...".
const SignatureHeader = "X-Webhook-Signature-256"

const signaturePrefix = "sha256="

// maxBodySize bounds inbound payloads at 1 MiB.
const maxBodySize = 1 << 20

// Event is the inbound payload: a comment posted on a tracked issue.
type Event struct {
	TenantID string `json:"tenant_id"`
	IssueKey string `json:"issue_key"`
	Comment  string `json:"comment"`
}

// GraphResolver maps a suspended phase to the graph it resumes into.
type GraphResolver func(p state.Phase) (string, error)

// Adapter is the HTTP handler for inbound ticketing events.
type Adapter struct {
	secret    []byte
	items     item.Store
	requests  queue.Store
	ticketing collab.Ticketing
	resolve   GraphResolver
	logger    *slog.Logger
}

// NewAdapter creates a webhook adapter. secret is the shared HMAC key
// the ticketing system signs payloads with.
func NewAdapter(
	secret []byte,
	items item.Store,
	requests queue.Store,
	ticketing collab.Ticketing,
	resolve GraphResolver,
	logger *slog.Logger,
) *Adapter {
	return &Adapter{
		secret:    secret,
		items:     items,
		requests:  requests,
		ticketing: ticketing,
		resolve:   resolve,
		logger:    logger,
	}
}

// ServeHTTP handles one inbound event.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		httpError(w, http.StatusBadRequest, "read body")
		return
	}

	if !a.verifySignature(r.Header.Get(SignatureHeader), body) {
		a.logger.Warn("webhook signature rejected",
			slog.String("remote_addr", r.RemoteAddr),
		)
		httpError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		httpError(w, http.StatusBadRequest, "malformed event")
		return
	}
	if ev.TenantID == "" || ev.IssueKey == "" || ev.Comment == "" {
		httpError(w, http.StatusBadRequest, "missing tenant_id, issue_key, or comment")
		return
	}

	req, err := a.attach(r, ev)
	switch {
	case err == nil:
	case errors.Is(err, prfactory.ErrWorkItemNotFound):
		httpError(w, http.StatusNotFound, "no work item for issue")
		return
	case errors.Is(err, prfactory.ErrPendingRequest):
		httpError(w, http.StatusConflict, "work item already has an open request")
		return
	case errors.Is(err, errNotSuspended), errors.Is(err, errUnparseable):
		httpError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		a.logger.Error("webhook attach failed",
			slog.String("tenant_id", ev.TenantID),
			slog.String("issue_key", ev.IssueKey),
			slog.String("error", err.Error()),
		)
		httpError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.logger.Info("resume request attached",
		slog.String("tenant_id", ev.TenantID),
		slog.String("issue_key", ev.IssueKey),
		slog.String("request_id", req.ID.String()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"request_id": req.ID.String()})
}

var (
	errNotSuspended = errors.New("work item is not awaiting a reply")
	errUnparseable  = errors.New("comment is not a recognizable reply")
)

// attach parses the reply and enqueues a resume request for the
// suspended work item the event refers to.
func (a *Adapter) attach(r *http.Request, ev Event) (*queue.Request, error) {
	ctx := r.Context()

	w, err := a.items.GetWorkItemByExternalKey(ctx, ev.TenantID, ev.IssueKey)
	if err != nil {
		return nil, err
	}
	if !state.IsSuspended(w.Phase) {
		return nil, fmt.Errorf("%w (phase %q)", errNotSuspended, w.Phase)
	}

	graphID, err := a.resolve(w.Phase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotSuspended, err)
	}

	reply, err := a.ticketing.ParseUserReply(ctx, ev.Comment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseable, err)
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("webhook: encode reply: %w", err)
	}

	req := queue.NewResume(ev.TenantID, w.ID, graphID, payload)
	if err := a.requests.EnqueueRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// verifySignature checks the hex HMAC-SHA256 of body against the
// signature header using a constant-time comparison.
func (a *Adapter) verifySignature(header string, body []byte) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for a payload. Exported for
// senders and tests.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
