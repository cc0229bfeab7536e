package model

// StatusKind is the normalized provider status vocabulary.
type StatusKind string

const (
	StatusKindPending    StatusKind = "pending"
	StatusKindProcessing StatusKind = "processing"
	StatusKindSucceeded  StatusKind = "succeeded"
	StatusKindFailed     StatusKind = "failed"
)

// NormalizedStatus is what every adapter's Poll produces. Build it with the
// constructors below; the zero value has no kind and is rejected by ApplyPoll.
type NormalizedStatus struct {
	Kind        StatusKind
	ArtifactURL string
	Message     string
	Retryable   bool
	Progress    int
}

func StatusPending() NormalizedStatus {
	return NormalizedStatus{Kind: StatusKindPending}
}

func StatusProcessing(progress int) NormalizedStatus {
	return NormalizedStatus{Kind: StatusKindProcessing, Progress: clampProgress(progress)}
}

func StatusSucceeded(artifactURL string) NormalizedStatus {
	return NormalizedStatus{Kind: StatusKindSucceeded, ArtifactURL: artifactURL, Progress: 100}
}

func StatusFailed(message string, retryable bool) NormalizedStatus {
	return NormalizedStatus{Kind: StatusKindFailed, Message: message, Retryable: retryable}
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
