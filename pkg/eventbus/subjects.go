package eventbus

import "fmt"

const (
	// SubjectPrefix is the canonical prefix for saga lifecycle events.
	SubjectPrefix = "sagaforge.v1.lifecycle"
)

// Domain identifies saga/step lifecycle event domains.
type Domain string

const (
	DomainSaga    Domain = "saga"
	DomainStep    Domain = "step"
	DomainMetrics Domain = "metrics"
)

// SagaSubject returns the canonical saga lifecycle subject.
func SagaSubject(sagaID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, DomainSaga, sanitizeSegment(sagaID), sanitizeSegment(eventType))
}

// StepSubject returns the canonical step lifecycle subject.
func StepSubject(sagaID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, DomainStep, sanitizeSegment(sagaID), sanitizeSegment(eventType))
}

// MetricsSubject returns the canonical metrics snapshot subject.
func MetricsSubject() string {
	return fmt.Sprintf("%s.%s.snapshot", SubjectPrefix, DomainMetrics)
}

// DomainWildcardSubject returns the canonical wildcard subject for a domain.
func DomainWildcardSubject(domain Domain) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, sanitizeSegment(string(domain)))
}

// AllSubjects matches every lifecycle event.
func AllSubjects() string {
	return SubjectPrefix + ".>"
}

func sanitizeSegment(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
