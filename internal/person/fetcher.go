// Package person fetches full person attributes for a resolved CPF from the
// primary data provider, bounded by a hard timeout.
package person

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/pkg/directd"
)

// DependencyName is the name under which fetch outcomes are reported to
// dependency health tracking.
const DependencyName = "directd"

// Result is the outcome of one fetch attempt. Exactly one of the three
// shapes applies: Person set (data), everything zero (provider holds no data
// for the CPF), or TimedOut/Err set (transient dependency problem — the
// caller keeps the record retryable and does not repeat resolution).
type Result struct {
	Person   *model.Person
	TimedOut bool
	Err      error
}

// Failed reports whether the attempt hit a dependency problem rather than a
// definitive answer.
func (r Result) Failed() bool {
	return r.TimedOut || r.Err != nil
}

// Fetcher wraps the provider call in a timeout and converts the wire record
// to the domain shape.
type Fetcher struct {
	provider directd.Client
	timeout  time.Duration
}

// NewFetcher creates a Fetcher with the given per-call timeout.
func NewFetcher(provider directd.Client, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{provider: provider, timeout: timeout}
}

// ByIdentifier fetches the person record for a CPF. A timeout is reported
// distinctly from "no data": it signals a slow dependency, not an empty one.
func (f *Fetcher) ByIdentifier(ctx context.Context, cpf string) Result {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	rec, err := f.provider.FetchPerson(fetchCtx, cpf)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			zap.L().Warn("person: fetch timed out", zap.Duration("timeout", f.timeout))
			return Result{TimedOut: true}
		}
		zap.L().Warn("person: fetch failed", zap.Error(err))
		return Result{Err: err}
	}
	if rec == nil {
		return Result{}
	}
	return Result{Person: convert(rec)}
}

func convert(rec *directd.PersonRecord) *model.Person {
	p := &model.Person{
		Name:           rec.Name,
		Sex:            rec.Sex,
		Income:         rec.Income,
		PresumedIncome: rec.PresumedIncome,
		Occupation:     rec.Occupation,
		MaritalStatus:  rec.MaritalStatus,
		Phones:         rec.Phones,
		Emails:         rec.Emails,
	}
	if rec.BirthDate != "" {
		if bd, err := time.Parse("2006-01-02", rec.BirthDate); err == nil {
			p.BirthDate = &bd
		}
	}
	for _, a := range rec.Addresses {
		p.Addresses = append(p.Addresses, model.Address{
			Street:       a.Street,
			Number:       a.Number,
			Complement:   a.Complement,
			Neighborhood: a.Neighborhood,
			City:         a.City,
			State:        a.State,
			ZipCode:      a.ZipCode,
		})
	}
	return p
}
