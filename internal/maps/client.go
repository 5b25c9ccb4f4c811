// Package maps is a client for the QIWI terminal locator API.
package maps

import (
	"context"
	"net/http"
	"strings"

	"github.com/mattjoyce/qiwigo/internal/apimethod"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/request"
)

const DefaultBaseURL = "https://edge.qiwi.com"

// DefaultActiveWithin hides terminals inactive for longer than this many minutes.
const DefaultActiveWithin = 30

// Polygon is the search rectangle, given by its north-west and south-east
// corners.
type Polygon struct {
	LatNW float64
	LngNW float64
	LatSE float64
	LngSE float64
}

// TerminalFilter narrows a terminal search. Nil and empty fields are not sent.
type TerminalFilter struct {
	Zoom *int
	// ActiveWithin is in minutes. Zero means DefaultActiveWithin.
	ActiveWithin        int
	IncludePartners     *bool
	PartnerIDs          []string
	CashAllowed         *bool
	CardAllowed         *bool
	IdentificationTypes *int
	TerminalGroups      []string
}

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Precise   bool    `json:"precise"`
}

type Address struct {
	City    string `json:"city"`
	Street  string `json:"street"`
	House   string `json:"house"`
	Comment string `json:"comment"`
}

// Terminal is one payment terminal or cluster centre.
type Terminal struct {
	ID                 string     `json:"terminalId"`
	PartnerID          int        `json:"ttpId"`
	LastActive         string     `json:"lastActive"`
	Count              int        `json:"count"`
	Address            Address    `json:"address"`
	Coordinate         Coordinate `json:"coordinate"`
	Verified           bool       `json:"verified"`
	Label              string     `json:"label"`
	Description        string     `json:"description"`
	CashAllowed        bool       `json:"cashAllowed"`
	CardAllowed        bool       `json:"cardAllowed"`
	IdentificationType int        `json:"identificationType"`
}

// Partner is a terminal owner group, usable in TerminalFilter.TerminalGroups.
type Partner struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	LogoURL string `json:"logoUrl"`
}

// Config configures a Client. The locator needs no credentials.
type Config struct {
	BaseURL string
	Request request.Config
}

// Client is safe for concurrent use.
type Client struct {
	service   *request.Service
	terminals *apimethod.Descriptor
	partners  *apimethod.Descriptor
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	rc := cfg.Request
	if rc.Messages == nil {
		rc.Messages = request.DefaultMessages
	}
	if rc.Logger == nil {
		rc.Logger = log.WithComponent("maps")
	}

	optional := apimethod.Runtime().AsOptional()
	return &Client{
		service: request.NewService(rc),
		terminals: &apimethod.Descriptor{
			Name:   "maps.terminals",
			Method: http.MethodGet,
			URL:    base + "/locator/v3/nearest/clusters",
			Query: apimethod.Object{
				"latNW":               apimethod.Runtime(),
				"lngNW":               apimethod.Runtime(),
				"latSE":               apimethod.Runtime(),
				"lngSE":               apimethod.Runtime(),
				"zoom":                optional,
				"activeWithinMinutes": apimethod.Runtime().WithDefault(DefaultActiveWithin),
				"withRefillWallet":    optional,
				"ttpIds":              optional,
				"cacheAllowed":        optional,
				"cardAllowed":         optional,
				"identificationTypes": optional,
				"ttpGroups":           optional,
			},
		},
		partners: &apimethod.Descriptor{
			Name:   "maps.partners",
			Method: http.MethodGet,
			URL:    base + "/locator/v3/ttp-groups",
			Header: map[string]string{"Content-Type": "text/json"},
		},
	}
}

// Service exposes the underlying request service.
func (c *Client) Service() *request.Service {
	return c.service
}

// Close releases the client's HTTP session.
func (c *Client) Close() {
	c.service.Close()
}

// Terminals lists terminals inside p.
func (c *Client) Terminals(ctx context.Context, p Polygon, f TerminalFilter) ([]Terminal, error) {
	values := apimethod.Values{
		"latNW":               p.LatNW,
		"lngNW":               p.LngNW,
		"latSE":               p.LatSE,
		"lngSE":               p.LngSE,
		"zoom":                deref(f.Zoom),
		"withRefillWallet":    deref(f.IncludePartners),
		"cacheAllowed":        deref(f.CashAllowed),
		"cardAllowed":         deref(f.CardAllowed),
		"identificationTypes": deref(f.IdentificationTypes),
		"ttpIds":              list(f.PartnerIDs),
		"ttpGroups":           list(f.TerminalGroups),
	}
	if f.ActiveWithin > 0 {
		values["activeWithinMinutes"] = f.ActiveWithin
	}
	return request.Emit[[]Terminal](ctx, c.service, c.terminals, values)
}

// Partners lists terminal owner groups.
func (c *Client) Partners(ctx context.Context) ([]Partner, error) {
	return request.Emit[[]Partner](ctx, c.service, c.partners, nil)
}

func deref[T any](p *T) any {
	if p == nil {
		return apimethod.Absent
	}
	return *p
}

func list(s []string) any {
	if len(s) == 0 {
		return apimethod.Absent
	}
	return s
}
