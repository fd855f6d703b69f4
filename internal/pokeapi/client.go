// Package pokeapi is a minimal client for the upstream Pokémon data API.
// All reads go through the cache layer; this client is only ever invoked as
// a cache loader or preload warmer.
package pokeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dexsync/dexsync/internal/httperr"
)

// Pokemon is the subset of the entity resource the client consumes.
type Pokemon struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	BaseExperience int    `json:"base_experience"`
	Height         int    `json:"height"`
	Weight         int    `json:"weight"`
	Types          []Slot `json:"types"`
}

// Slot is one type slot of a Pokémon.
type Slot struct {
	Slot int `json:"slot"`
	Type struct {
		Name string `json:"name"`
	} `json:"type"`
}

// Species carries the localized flavor-text entries of one species.
type Species struct {
	ID                int               `json:"id"`
	Name              string            `json:"name"`
	FlavorTextEntries []FlavorTextEntry `json:"flavor_text_entries"`
}

// FlavorTextEntry is one localized flavor text.
type FlavorTextEntry struct {
	FlavorText string `json:"flavor_text"`
	Language   struct {
		Name string `json:"name"`
	} `json:"language"`
}

// Client fetches Pokémon resources over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the API at baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetPokemon fetches one Pokémon by id.
func (c *Client) GetPokemon(ctx context.Context, id int) (*Pokemon, error) {
	var p Pokemon
	if err := c.getJSON(ctx, fmt.Sprintf("%s/pokemon/%d", c.baseURL, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSpecies fetches one species by id, including its flavor-text entries.
func (c *Client) GetSpecies(ctx context.Context, id int) (*Species, error) {
	var s Species
	if err := c.getJSON(ctx, fmt.Sprintf("%s/pokemon-species/%d", c.baseURL, id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return httperr.New("pokeapi.get", httperr.Classify(err, 0), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httperr.New("pokeapi.get", httperr.Classify(nil, resp.StatusCode), resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return httperr.New("pokeapi.get", httperr.KindValidation, resp.StatusCode,
			fmt.Errorf("decode response: %w", err))
	}
	return nil
}
