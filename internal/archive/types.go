package archive

import "errors"

// ErrSettleTimeout is returned by Page.WaitForLoadState when the bound elapses
// before the requested load state is observed.
var ErrSettleTimeout = errors.New("settle wait timed out")

// ErrArtifactMissing marks a bundle slot that no capture step filled.
var ErrArtifactMissing = errors.New("artifact missing")

// LoadState names a page readiness signal.
type LoadState string

// Load states understood by Page.WaitForLoadState.
const (
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoad             LoadState = "load"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// ArtifactKind identifies one member of an archive bundle.
type ArtifactKind string

// Artifact kinds and their stable object names under a storage key.
const (
	ArtifactScreenshot ArtifactKind = "screenshot.webp"
	ArtifactHTML       ArtifactKind = "content.html"
	ArtifactBody       ArtifactKind = "body"
	ArtifactMetadata   ArtifactKind = "metadata.json"
)

// ArtifactKinds lists every artifact in upload order.
var ArtifactKinds = []ArtifactKind{
	ArtifactScreenshot,
	ArtifactHTML,
	ArtifactBody,
	ArtifactMetadata,
}

// FetchRequest is the immutable input of one pipeline run.
type FetchRequest struct {
	URL string `json:"url"`
}

// ResponseMetadata describes the main document response of a run.
type ResponseMetadata struct {
	Status           int               `json:"status"`
	Headers          map[string]string `json:"headers"`
	ResolvedURL      string            `json:"resolved_url"`
	MainResourceType string            `json:"type"`
}

// Artifact is the result of one capture step. It is present when Err is nil.
type Artifact struct {
	Kind        ArtifactKind
	ContentType string
	Data        []byte
	Err         error
}

// Present reports whether the capture step produced data.
func (a Artifact) Present() bool {
	return a.Err == nil && a.Kind != ""
}

// Failed builds an absent artifact carrying the capture error.
func Failed(kind ArtifactKind, err error) Artifact {
	return Artifact{Kind: kind, Err: err}
}

// SettleStatus records what happened to one settle wait.
type SettleStatus string

// Settle wait results.
const (
	SettleReached  SettleStatus = "reached"
	SettleTimedOut SettleStatus = "timed_out"
	SettleFailed   SettleStatus = "failed"
	SettleSkipped  SettleStatus = "skipped"
)

// SettleReport keeps the result of both settle waits alongside the bundle.
type SettleReport struct {
	DOMContentLoaded SettleStatus `json:"dom_content_loaded"`
	NetworkIdle      SettleStatus `json:"network_idle"`
}

// ArchiveBundle is the set of artifacts captured for one page fetch.
type ArchiveBundle struct {
	Screenshot Artifact
	HTML       Artifact
	RawBody    Artifact
	Metadata   Artifact
	Response   ResponseMetadata
	Settle     SettleReport
}

// Artifacts returns the bundle members in upload order. Unfilled slots are
// reported as failed with ErrArtifactMissing.
func (b ArchiveBundle) Artifacts() []Artifact {
	out := []Artifact{b.Screenshot, b.HTML, b.RawBody, b.Metadata}
	for i := range out {
		if out[i].Kind == "" {
			out[i] = Failed(ArtifactKinds[i], ErrArtifactMissing)
		}
	}
	return out
}

// HTMLString returns the rendered document, or "" when it was not captured.
func (b ArchiveBundle) HTMLString() string {
	if !b.HTML.Present() {
		return ""
	}
	return string(b.HTML.Data)
}

// CaptureResult is what a Capturer hands back to the orchestrator. On an
// overall failure only RequestedURL and the fields of Response obtained before
// the failure are populated.
type CaptureResult struct {
	RequestedURL string
	Response     ResponseMetadata
	Bundle       ArchiveBundle
}

// FetchOutcome is the externally observable result of one pipeline run.
type FetchOutcome struct {
	Success      bool              `json:"success"`
	RequestedURL string            `json:"url"`
	ResolvedURL  string            `json:"final_url"`
	StorageKey   string            `json:"path"`
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers"`
}

// FailedOutcome builds the outcome of a run that never obtained a response.
func FailedOutcome(url string) FetchOutcome {
	return FetchOutcome{
		Success:      false,
		RequestedURL: url,
		ResolvedURL:  url,
		Headers:      map[string]string{},
	}
}

// CloneHeaders copies a header map so callers can hand it out safely.
func CloneHeaders(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
