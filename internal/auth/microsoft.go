package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphMeURL = "https://graph.microsoft.com/v1.0/me"

// MicrosoftProfile is the subset of the Graph /me document AMA needs.
type MicrosoftProfile struct {
	ID    string
	Email string
	Name  string
}

// MicrosoftProvider drives the Microsoft identity platform authorization
// code flow.
type MicrosoftProvider struct {
	cfg      *oauth2.Config
	graphURL string
}

// MicrosoftOption customises a MicrosoftProvider.
type MicrosoftOption func(*MicrosoftProvider)

// WithMicrosoftEndpoints overrides the OAuth and Graph endpoints.
func WithMicrosoftEndpoints(endpoint oauth2.Endpoint, graphURL string) MicrosoftOption {
	return func(p *MicrosoftProvider) {
		p.cfg.Endpoint = endpoint
		p.graphURL = graphURL
	}
}

// NewMicrosoftProvider builds a provider for the given app registration.
// tenant is "common", "organizations", "consumers" or a tenant ID.
func NewMicrosoftProvider(clientID, clientSecret, tenant, redirectURL string, opts ...MicrosoftOption) *MicrosoftProvider {
	p := &MicrosoftProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile", "User.Read"},
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
		graphURL: graphMeURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthCodeURL returns the consent page URL for state.
func (p *MicrosoftProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for a token and fetches the signed-in
// user's profile.
func (p *MicrosoftProvider) Exchange(ctx context.Context, code string) (*MicrosoftProfile, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.graphURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := p.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch profile: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var me struct {
		ID                string `json:"id"`
		DisplayName       string `json:"displayName"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if me.ID == "" {
		return nil, errors.New("profile has no id")
	}

	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	if email == "" {
		return nil, errors.New("profile has no email address")
	}
	return &MicrosoftProfile{
		ID:    me.ID,
		Email: strings.ToLower(email),
		Name:  me.DisplayName,
	}, nil
}
