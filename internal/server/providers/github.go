package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/linqyard/linqyard/internal/server/models"
)

// Test seams.
var (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

// githubUser is the subset of GitHub's /user response we consume. Email is
// empty when the user hides it, in which case /user/emails is consulted.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub authorization-code
// flow.
type GitHubProvider struct {
	config *oauth2.Config
}

var _ Provider = (*GitHubProvider)(nil)

func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

func (p *GitHubProvider) Name() string { return models.AuthMethodGitHub }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GitHubProvider) FetchProfile(ctx context.Context, code string) (*ExternalProfile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("github: exchanging code: %w", err)
	}

	client := p.config.Client(ctx, token)

	u, err := fetchGithubUser(client)
	if err != nil {
		return nil, err
	}

	profile := &ExternalProfile{
		Provider:       models.AuthMethodGitHub,
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Email:          u.Email,
		DisplayName:    u.Name,
		AvatarURL:      u.AvatarURL,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = u.Login
	}
	// GitHub marks /user emails verified implicitly; the explicit flag only
	// exists on /user/emails.
	profile.EmailVerified = profile.Email != ""

	if profile.Email == "" {
		email, verified, err := fetchGithubPrimaryEmail(client)
		if err != nil {
			return nil, err
		}
		profile.Email = email
		profile.EmailVerified = verified
	}

	return profile, nil
}

func fetchGithubUser(client *http.Client) (*githubUser, error) {
	resp, err := client.Get(githubUserURL)
	if err != nil {
		return nil, fmt.Errorf("github: fetching user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github: user endpoint returned status %d", resp.StatusCode)
	}

	var u githubUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("github: decoding user: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("github: user response missing id")
	}
	return &u, nil
}

// fetchGithubPrimaryEmail returns the primary address from /user/emails.
// Absence of any usable address is not an error here; the caller decides
// whether an email is required.
func fetchGithubPrimaryEmail(client *http.Client) (string, bool, error) {
	resp, err := client.Get(githubEmailsURL)
	if err != nil {
		return "", false, fmt.Errorf("github: fetching emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("github: emails endpoint returned status %d", resp.StatusCode)
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", false, fmt.Errorf("github: decoding emails: %w", err)
	}

	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, emails[0].Verified, nil
	}
	return "", false, nil
}
