package waterfall

import (
	"context"
	"fmt"

	"github.com/ibvi/lead-enrich/pkg/directd"
	"github.com/ibvi/lead-enrich/pkg/meili"
)

// meiliBaseConfidence is assigned to directory hits; Meilisearch ranks but
// does not score matches, so hits rely on the name gate for acceptance.
const meiliBaseConfidence = 0.6

// DirectDPhoneTier discovers a CPF from the normalized phone number.
type DirectDPhoneTier struct {
	Client directd.Client
}

func (t *DirectDPhoneTier) Name() string { return "directd_phone" }

func (t *DirectDPhoneTier) Lookup(ctx context.Context, q Query) (*Candidate, error) {
	if q.Phone == "" {
		return nil, nil
	}
	d, err := t.Client.DiscoverByPhone(ctx, q.Phone)
	if err != nil || d == nil {
		return nil, err
	}
	return &Candidate{Identifier: d.CPF, Name: d.Name, Confidence: d.Score}, nil
}

// DirectDEmailTier discovers a CPF from the lead's email.
type DirectDEmailTier struct {
	Client directd.Client
}

func (t *DirectDEmailTier) Name() string { return "directd_email" }

func (t *DirectDEmailTier) Lookup(ctx context.Context, q Query) (*Candidate, error) {
	if q.Email == "" {
		return nil, nil
	}
	d, err := t.Client.DiscoverByEmail(ctx, q.Email)
	if err != nil || d == nil {
		return nil, err
	}
	return &Candidate{Identifier: d.CPF, Name: d.Name, Confidence: d.Score}, nil
}

// MeiliTier searches the person directory index. It prefers an exact phone
// or email filter and falls back to a name query.
type MeiliTier struct {
	Client meili.Client
	Index  string
}

func (t *MeiliTier) Name() string { return "meili_directory" }

func (t *MeiliTier) Lookup(ctx context.Context, q Query) (*Candidate, error) {
	req := meili.SearchRequest{Limit: 1}
	switch {
	case q.Phone != "":
		req.Filter = fmt.Sprintf("phones = %q", q.Phone)
	case q.Email != "":
		req.Filter = fmt.Sprintf("emails = %q", q.Email)
	case q.Name != "":
		req.Query = q.Name
	default:
		return nil, nil
	}

	resp, err := t.Client.Search(ctx, t.Index, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Hits) == 0 || resp.Hits[0].CPF == "" {
		return nil, nil
	}
	hit := resp.Hits[0]
	return &Candidate{Identifier: hit.CPF, Name: hit.Name, Confidence: meiliBaseConfidence}, nil
}
