package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

// ErrCAAMismatch marks a domain whose CAA policy does not allow any of the
// configured issuers.
var ErrCAAMismatch = errors.New("caa policy forbids configured issuer")

const caaQueryTimeout = 5 * time.Second

// CAAChecker walks a domain's CAA records before an order is placed, so a
// policy mismatch fails fast instead of burning an ACME attempt.
//
// The walk starts at the domain itself and climbs one label at a time up
// to and including the registrable parent. The first level with any CAA
// answer decides; per RFC 8659 records further up are not consulted.
type CAAChecker struct {
	caaDomains []string
	servers    []string
	client     *dns.Client
	logger     *slog.Logger
}

// NewCAAChecker builds a checker accepting the given issuer names. The
// resolvers come from /etc/resolv.conf; when that is unreadable or
// caaDomains is empty the checker passes everything, since CAA is an
// optional pre-flight.
func NewCAAChecker(caaDomains []string, logger *slog.Logger) *CAAChecker {
	c := &CAAChecker{
		caaDomains: caaDomains,
		client:     &dns.Client{Net: "udp", Timeout: caaQueryTimeout},
		logger:     logger.With("component", "caa"),
	}
	if len(caaDomains) == 0 {
		return c
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		logger.Warn("caa checking disabled, cannot read resolver config", "error", err)
		return c
	}
	for _, s := range conf.Servers {
		c.servers = append(c.servers, net.JoinHostPort(s, conf.Port))
	}
	return c
}

// NewCAACheckerWithServers skips resolv.conf and queries the given
// "host:port" servers directly.
func NewCAACheckerWithServers(caaDomains, servers []string, logger *slog.Logger) *CAAChecker {
	return &CAAChecker{
		caaDomains: caaDomains,
		servers:    servers,
		client:     &dns.Client{Net: "udp", Timeout: caaQueryTimeout},
		logger:     logger.With("component", "caa"),
	}
}

// Check walks the CAA records for d. A nil return means issuance may
// proceed; ErrCAAMismatch means the policy names someone else.
func (c *CAAChecker) Check(ctx context.Context, d string) error {
	if len(c.caaDomains) == 0 || len(c.servers) == 0 {
		return nil
	}

	ascii, err := ASCII(d)
	if err != nil {
		return err
	}

	stop, _ := publicsuffix.EffectiveTLDPlusOne(ascii)

	name := ascii
	for {
		records, err := c.query(ctx, name)
		if err != nil {
			// a broken level is treated as having no records
			c.logger.Debug("caa query failed, continuing walk", "name", name, "error", err)
		} else if len(records) > 0 {
			return c.match(d, name, records)
		}

		if name == stop {
			return nil
		}
		idx := strings.Index(name, ".")
		if idx < 0 {
			return nil
		}
		name = name[idx+1:]
		if stop == "" && !strings.Contains(name, ".") {
			return nil
		}
	}
}

// match requires at least one issue tag naming a configured CAA domain.
func (c *CAAChecker) match(d, level string, records []*dns.CAA) error {
	for _, rr := range records {
		if rr.Tag != "issue" {
			continue
		}
		// the issue value may carry parameters after a semicolon
		value := strings.TrimSpace(strings.SplitN(rr.Value, ";", 2)[0])
		for _, allowed := range c.caaDomains {
			if strings.EqualFold(value, allowed) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %q sets CAA at %q", ErrCAAMismatch, d, level)
}

func (c *CAAChecker) query(ctx context.Context, name string) ([]*dns.CAA, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeCAA)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range c.servers {
		resp, _, err := c.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Truncated {
			tcp := &dns.Client{Net: "tcp", Timeout: c.client.Timeout}
			resp, _, err = tcp.ExchangeContext(ctx, msg, server)
			if err != nil {
				lastErr = err
				continue
			}
		}
		if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
			lastErr = fmt.Errorf("dns rcode %s for %s", dns.RcodeToString[resp.Rcode], name)
			continue
		}

		var records []*dns.CAA
		for _, rr := range resp.Answer {
			if caa, ok := rr.(*dns.CAA); ok {
				records = append(records, caa)
			}
		}
		return records, nil
	}
	return nil, lastErr
}
