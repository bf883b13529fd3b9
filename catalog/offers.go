package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	clierrors "egclaimer/internal/errors"
)

// Provenance records which data source produced an offer list. Callers must
// be able to tell primary data from mirror data; the mirror is a fallback,
// not a silent substitute.
type Provenance string

const (
	// ProvenancePrimary marks offers from the storefront's own promotions API.
	ProvenancePrimary Provenance = "primary"
	// ProvenanceMirror marks offers from the public mirror API.
	ProvenanceMirror Provenance = "mirror"
)

// Offer is one currently-promoted zero-price catalog entry. Immutable once
// fetched for a run.
//
// OfferID and CatalogItemID are distinct identifiers: an offer correlates to
// an entitlement by Namespace, never by item id equality.
type Offer struct {
	OfferID       string
	Namespace     string
	CatalogItemID string
	Title         string
	Slug          string
	IsAdultOnly   bool
}

// StoreURL returns the offer's product page, or empty when no slug is known.
func (o Offer) StoreURL(locale string) string {
	if o.Slug == "" {
		return ""
	}
	return storeOrigin + "/" + locale + "/p/" + o.Slug
}

// CheckoutURL returns the direct purchase page derived from the offer
// identifiers, used when no claim control can be located on the product page.
func (o Offer) CheckoutURL() string {
	return "https://www.epicgames.com/store/purchase?offers=1-" + o.Namespace + "-" + o.OfferID
}

// FreeOffers lists the currently-promoted free offers.
//
// The primary promotions API is queried first. The unauthenticated mirror is
// consulted only when the primary is blocked by a bot challenge, or yields
// zero offers after a transport failure; the returned Provenance tells the
// caller which source answered.
func (c *Client) FreeOffers(ctx context.Context) ([]Offer, Provenance, error) {
	offers, err := c.primaryFreeOffers(ctx)
	if err == nil {
		return offers, ProvenancePrimary, nil
	}

	if !clierrors.Is(err, clierrors.ErrChallenge) && !clierrors.Is(err, clierrors.ErrTransport) {
		return nil, ProvenancePrimary, err
	}

	c.log.Warn().Err(err).Msg("primary offer query failed, consulting mirror")
	mirror, mirrorErr := c.mirrorFreeOffers(ctx)
	if mirrorErr != nil {
		// Surface the primary failure; the mirror outage is secondary.
		return nil, ProvenanceMirror, err
	}
	return mirror, ProvenanceMirror, nil
}

// promotionsResponse mirrors the subset of the promotions payload we read.
type promotionsResponse struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []promotionElement `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

type promotionElement struct {
	Title       string `json:"title"`
	ID          string `json:"id"`
	Namespace   string `json:"namespace"`
	ProductSlug string `json:"productSlug"`
	URLSlug     string `json:"urlSlug"`
	IsAdultOnly bool   `json:"isAdultOnly"`
	CatalogNs   struct {
		Mappings []pageMapping `json:"mappings"`
	} `json:"catalogNs"`
	OfferMappings []pageMapping `json:"offerMappings"`
	Items         []struct {
		ID string `json:"id"`
	} `json:"items"`
	Promotions *struct {
		PromotionalOffers []promoGroup `json:"promotionalOffers"`
	} `json:"promotions"`
}

type pageMapping struct {
	PageSlug string `json:"pageSlug"`
	PageType string `json:"pageType"`
}

type promoGroup struct {
	PromotionalOffers []struct {
		StartDate       time.Time `json:"startDate"`
		EndDate         time.Time `json:"endDate"`
		DiscountSetting struct {
			DiscountPercentage int `json:"discountPercentage"`
		} `json:"discountSetting"`
	} `json:"promotionalOffers"`
}

func (c *Client) primaryFreeOffers(ctx context.Context) ([]Offer, error) {
	params := url.Values{
		"locale":         {c.cfg.Locale},
		"country":        {c.cfg.Country},
		"allowCountries": {c.cfg.Country},
	}

	req, err := c.newRequest(ctx, http.MethodGet, freeOffersURL, params, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.doJSON(ctx, req)
	if err != nil {
		return nil, err
	}

	var parsed promotionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, clierrors.Wrapf(err, "parsing promotions response")
	}

	now := c.nowTime()
	var offers []Offer
	for _, el := range parsed.Data.Catalog.SearchStore.Elements {
		if !isActiveFreePromotion(el, now) {
			continue
		}
		offer := Offer{
			OfferID:     el.ID,
			Namespace:   el.Namespace,
			Title:       el.Title,
			Slug:        bestSlug(el),
			IsAdultOnly: el.IsAdultOnly,
		}
		if len(el.Items) > 0 {
			offer.CatalogItemID = el.Items[0].ID
		}
		offers = append(offers, offer)
		c.log.Info().Str("title", offer.Title).Str("offer_id", truncateID(offer.OfferID)).
			Str("namespace", truncateID(offer.Namespace)).Msg("free offer found")
	}
	return offers, nil
}

// isActiveFreePromotion reports whether the element carries a promotional
// offer that is 100% off (discountPercentage == 0) and inside its window.
func isActiveFreePromotion(el promotionElement, now time.Time) bool {
	if el.Promotions == nil {
		return false
	}
	for _, group := range el.Promotions.PromotionalOffers {
		for _, promo := range group.PromotionalOffers {
			if promo.DiscountSetting.DiscountPercentage != 0 {
				continue
			}
			if !promo.StartDate.After(now) && !promo.EndDate.Before(now) {
				return true
			}
		}
	}
	return false
}

// bestSlug picks the most reliable product-page slug: the productHome mapping
// first, then any catalog mapping, then offer mappings, then the flat fields.
func bestSlug(el promotionElement) string {
	for _, m := range el.CatalogNs.Mappings {
		if m.PageType == "productHome" {
			return m.PageSlug
		}
	}
	if len(el.CatalogNs.Mappings) > 0 {
		return el.CatalogNs.Mappings[0].PageSlug
	}
	if len(el.OfferMappings) > 0 {
		return el.OfferMappings[0].PageSlug
	}
	if el.ProductSlug != "" {
		return el.ProductSlug
	}
	return el.URLSlug
}

func (c *Client) mirrorFreeOffers(ctx context.Context) ([]Offer, error) {
	req, err := c.newRequest(ctx, http.MethodGet, mirrorOffersURL, nil, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.doJSON(ctx, req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		CurrentGames []struct {
			Title     string `json:"title"`
			ID        string `json:"id"`
			Namespace string `json:"namespace"`
			Slug      string `json:"slug"`
		} `json:"currentGames"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, clierrors.Wrapf(err, "parsing mirror response")
	}

	offers := make([]Offer, 0, len(parsed.CurrentGames))
	for _, g := range parsed.CurrentGames {
		if g.ID == "" || g.Namespace == "" {
			continue
		}
		offers = append(offers, Offer{
			OfferID:   g.ID,
			Namespace: g.Namespace,
			Title:     g.Title,
			Slug:      g.Slug,
		})
	}
	c.log.Info().Int("count", len(offers)).Msg("mirror offers fetched")
	return offers, nil
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
