package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// profileFetcher turns an access token into a normalized identity. It fills
// everything except the provider name and the tokens.
type profileFetcher func(ctx context.Context, c *apiClient, profileURL string, token *oauth2.Token) (models.ExternalIdentity, error)

type definition struct {
	endpoint   oauth2.Endpoint
	scopes     []string
	profileURL string
	fetch      profileFetcher
}

var definitions = map[string]definition{
	models.ProviderGoogle: {
		endpoint:   endpoints.Google,
		scopes:     []string{"openid", "email", "profile"},
		profileURL: "https://openidconnect.googleapis.com/v1/userinfo",
		fetch:      fetchGoogle,
	},
	models.ProviderGitHub: {
		endpoint:   endpoints.GitHub,
		scopes:     []string{"read:user", "user:email"},
		profileURL: "https://api.github.com/user",
		fetch:      fetchGitHub,
	},
	models.ProviderFacebook: {
		endpoint:   endpoints.Facebook,
		scopes:     []string{"email", "public_profile"},
		profileURL: "https://graph.facebook.com/v19.0/me",
		fetch:      fetchFacebook,
	},
	models.ProviderVKontakte: {
		endpoint:   endpoints.Vk,
		scopes:     []string{"email"},
		profileURL: "https://api.vk.com/method/users.get",
		fetch:      fetchVKontakte,
	},
	models.ProviderYandex: {
		endpoint:   endpoints.Yandex,
		scopes:     []string{"login:email", "login:info", "login:avatar"},
		profileURL: "https://login.yandex.ru/info",
		fetch:      fetchYandex,
	},
	models.ProviderMailru: {
		endpoint:   endpoints.Mailru,
		scopes:     []string{"userinfo"},
		profileURL: "https://oauth.mail.ru/userinfo",
		fetch:      fetchMailru,
	},
}

func bearer(token *oauth2.Token) string {
	return "Bearer " + token.AccessToken
}

func fetchGoogle(ctx context.Context, c *apiClient, profileURL string, token *oauth2.Token) (models.ExternalIdentity, error) {
	var profile struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := c.getJSON(ctx, profileURL, bearer(token), &profile); err != nil {
		return models.ExternalIdentity{}, err
	}
	return models.ExternalIdentity{
		ExternalID:  profile.Sub,
		Email:       profile.Email,
		DisplayName: profile.Name,
		AvatarURL:   profile.Picture,
	}, nil
}

// fetchGitHub falls back to the primary verified address when the public
// profile hides the email.
func fetchGitHub(ctx context.Context, c *apiClient, profileURL string, token *oauth2.Token) (models.ExternalIdentity, error) {
	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.getJSON(ctx, profileURL, bearer(token), &profile); err != nil {
		return models.ExternalIdentity{}, err
	}

	email := profile.Email
	if email == "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := c.getJSON(ctx, strings.TrimRight(profileURL, "/")+"/emails", bearer(token), &emails); err != nil {
			return models.ExternalIdentity{}, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}

	name := profile.Name
	if name == "" {
		name = profile.Login
	}

	return models.ExternalIdentity{
		ExternalID:  strconv.FormatInt(profile.ID, 10),
		Email:       email,
		DisplayName: name,
		AvatarURL:   profile.AvatarURL,
	}, nil
}

func fetchFacebook(ctx context.Context, c *apiClient, profileURL string, token *oauth2.Token) (models.ExternalIdentity, error) {
	var profile struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	u := profileURL + "?" + url.Values{"fields": {"id,name,email,picture.type(large)"}}.Encode()
	if err := c.getJSON(ctx, u, bearer(token), &profile); err != nil {
		return models.ExternalIdentity{}, err
	}
	return models.ExternalIdentity{
		ExternalID:  profile.ID,
		Email:       profile.Email,
		DisplayName: profile.Name,
		AvatarURL:   profile.Picture.Data.URL,
	}, nil
}

// fetchVKontakte reads the email from the token response; the users API
// never returns it.
func fetchVKontakte(ctx context.Context, c *apiClient, profileURL string, token *oauth2.Token) (models.ExternalIdentity, error) {
	var result struct {
		Response []struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Photo     string `json:"photo_200"`
		} `json:"response"`
		Error *struct {
			Code    int    `json:"error_code"`
			Message string `json:"error_msg"`
		} `json:"error"`
	}
	u := profileURL + "?" + url.Values{
		"fields":       {"photo_200"},
		"v":            {"5.131"},
		"access_token": {token.AccessToken},
	}.Encode()
	if err := c.getJSON(ctx, u, "", &result); err != nil {
		return models.ExternalIdentity{}, err
	}
	if result.Error != nil {
		return models.ExternalIdentity{}, fmt.Errorf("vk api error %d: %s", result.Error.Code, result.Error.Message)
	}
	if len(result.Response) == 0 {
		return models.ExternalIdentity{}, fmt.Errorf("vk api returned no user")
	}

	user := result.Response[0]
	email, _ := token.Extra("email").(string)
	return models.ExternalIdentity{
		ExternalID:  strconv.FormatInt(user.ID, 10),
		Email:       email,
		DisplayName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		AvatarURL:   user.Photo,
	}, nil
}

func fetchYandex(ctx context.Context, c *apiClient, profileURL string, token *oauth2.Token) (models.ExternalIdentity, error) {
	var profile struct {
		ID            string `json:"id"`
		Login         string `json:"login"`
		DisplayName   string `json:"display_name"`
		RealName      string `json:"real_name"`
		DefaultEmail  string `json:"default_email"`
		AvatarID      string `json:"default_avatar_id"`
		IsAvatarEmpty bool   `json:"is_avatar_empty"`
	}
	u := profileURL + "?format=json"
	if err := c.getJSON(ctx, u, "OAuth "+token.AccessToken, &profile); err != nil {
		return models.ExternalIdentity{}, err
	}

	name := profile.RealName
	if name == "" {
		name = profile.DisplayName
	}
	if name == "" {
		name = profile.Login
	}

	var avatar string
	if profile.AvatarID != "" && !profile.IsAvatarEmpty {
		avatar = "https://avatars.yandex.net/get-yapic/" + url.PathEscape(profile.AvatarID) + "/islands-200"
	}

	return models.ExternalIdentity{
		ExternalID:  profile.ID,
		Email:       profile.DefaultEmail,
		DisplayName: name,
		AvatarURL:   avatar,
	}, nil
}

func fetchMailru(ctx context.Context, c *apiClient, profileURL string, token *oauth2.Token) (models.ExternalIdentity, error) {
	var profile struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
		Image string `json:"image"`
		Error string `json:"error"`
	}
	u := profileURL + "?" + url.Values{"access_token": {token.AccessToken}}.Encode()
	if err := c.getJSON(ctx, u, "", &profile); err != nil {
		return models.ExternalIdentity{}, err
	}
	if profile.Error != "" {
		return models.ExternalIdentity{}, fmt.Errorf("mail.ru api error: %s", profile.Error)
	}
	return models.ExternalIdentity{
		ExternalID:  profile.ID,
		Email:       profile.Email,
		DisplayName: profile.Name,
		AvatarURL:   profile.Image,
	}, nil
}

// apiClient issues the profile requests with the registry's http client
type apiClient struct {
	http *http.Client
}
