package oauthfed

import "golang.org/x/oauth2"

// ProviderConfig describes one external identity provider: the OAuth2
// endpoint/scopes plus the REST endpoint used to fetch the account's
// profile once a token has been exchanged.
type ProviderConfig struct {
	Name         string
	OAuth2       oauth2.Config
	UserInfoURL  string
	AccountIDKey string // userinfo JSON field holding the stable account id
	EmailKey     string // userinfo JSON field holding the email, if any
}

// GoogleProvider returns the standard Google OIDC userinfo-based config.
func GoogleProvider(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name: "google",
		OAuth2: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		AccountIDKey: "sub",
		EmailKey:     "email",
	}
}

// GitHubProvider returns the standard GitHub OAuth app config.
func GitHubProvider(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name: "github",
		OAuth2: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
			},
		},
		UserInfoURL:  "https://api.github.com/user",
		AccountIDKey: "id",
		EmailKey:     "email",
	}
}
