package activity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrVerification marks an inbound activity that failed pre-receive
// checks. Such activities are dropped and logged; no reply is sent.
var ErrVerification = errors.New("federation verification failed")

// DomainPolicy is the configured allow/block list consulted before any
// network fetch to a previously-unseen domain.
type DomainPolicy struct {
	Allowed []string // when non-empty, only these domains are accepted
	Blocked []string
}

// Check returns an ErrVerification error if the domain is not
// permitted by the policy.
func (p DomainPolicy) Check(domain string) error {
	domain = strings.ToLower(domain)
	for _, blocked := range p.Blocked {
		if strings.EqualFold(blocked, domain) {
			return fmt.Errorf("%w: domain %s is blocked", ErrVerification, domain)
		}
	}
	if len(p.Allowed) == 0 {
		return nil
	}
	for _, allowed := range p.Allowed {
		if strings.EqualFold(allowed, domain) {
			return nil
		}
	}
	return fmt.Errorf("%w: domain %s is not on the allowlist", ErrVerification, domain)
}

// Domain extracts the host of an actor or activity URL.
func Domain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid URL %q", ErrVerification, rawURL)
	}
	return strings.ToLower(u.Host), nil
}

// VerifyEnvelope performs the anti-spoofing checks shared by all
// inbound activities: the activity id and the actor URL must live on
// the same domain, and that domain must pass the policy.
func (a *Activity) VerifyEnvelope(policy DomainPolicy) error {
	idDomain, err := Domain(a.ID)
	if err != nil {
		return err
	}
	actorDomain, err := Domain(a.Actor)
	if err != nil {
		return err
	}
	if idDomain != actorDomain {
		return fmt.Errorf("%w: activity id domain %s does not match actor domain %s",
			ErrVerification, idDomain, actorDomain)
	}
	return policy.Check(actorDomain)
}
