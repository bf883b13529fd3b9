package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	clierrors "egclaimer/internal/errors"
)

// Entitlement is one ledger record proving the account owns a catalog item.
// The ledger is the single source of truth for ownership.
type Entitlement struct {
	Namespace     string    `json:"namespace"`
	CatalogItemID string    `json:"catalogItemId"`
	GrantedAt     time.Time `json:"grantDate"`
}

// entitlementPageSize matches the bulk count the storefront accepts in one
// request.
const entitlementPageSize = 5000

// Entitlements fetches the account's entitlement ledger.
func (c *Client) Entitlements(ctx context.Context, accessToken, accountID string) ([]Entitlement, error) {
	endpoint := entitlementHost + "/entitlement/api/account/" + accountID + "/entitlements"
	params := url.Values{"count": {strconv.Itoa(entitlementPageSize)}}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.doJSON(ctx, req)
	if err != nil {
		return nil, clierrors.Wrapf(err, "fetching entitlements for %s", truncateID(accountID))
	}

	var entitlements []Entitlement
	if err := json.Unmarshal(body, &entitlements); err != nil {
		return nil, clierrors.Wrapf(err, "parsing entitlements")
	}

	c.log.Debug().Int("count", len(entitlements)).Msg("entitlements fetched")
	return entitlements, nil
}

// VerifyEntitlement reports whether the offer is already owned according to
// the ledger. Ownership is matched by namespace: the promotions API returns
// offer ids that differ from the entitlement's catalogItemId for the same
// title, so id equality would miss owned items.
func VerifyEntitlement(offer Offer, entitlements []Entitlement) bool {
	for _, e := range entitlements {
		if e.Namespace != "" && e.Namespace == offer.Namespace {
			return true
		}
	}
	return false
}
