// Package federation implements ticketauth.FederatedProvider over an
// OAuth2 authorization-code exchange followed by a userinfo lookup.
//
// The defaults target the WeChat open platform QR login: the token
// response carries the caller's openid, and userinfo is fetched with
// access_token and openid query parameters.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/ticketauth"
	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL     = "https://open.weixin.qq.com/connect/qrconnect"
	DefaultTokenURL    = "https://api.weixin.qq.com/sns/oauth2/access_token"
	DefaultUserInfoURL = "https://api.weixin.qq.com/sns/userinfo"
	DefaultScope       = "snsapi_login"
)

var (
	// ErrExchangeFailed wraps token endpoint failures.
	ErrExchangeFailed = errors.New("federation: code exchange failed")
	// ErrUserInfoFailed wraps userinfo failures, including provider errcodes.
	ErrUserInfoFailed = errors.New("federation: userinfo lookup failed")
)

// Config describes the provider application.
type Config struct {
	AppID       string
	AppSecret   string
	RedirectURL string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	Scopes      []string

	// Fragment is appended to the authorization URL, e.g. "wechat_redirect".
	Fragment string
	// Lang is sent to the userinfo endpoint when set.
	Lang string

	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.UserInfoURL == "" {
		c.UserInfoURL = DefaultUserInfoURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{DefaultScope}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Provider is safe for concurrent use.
type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	fragment    string
	lang        string
	client      *http.Client
}

var _ ticketauth.FederatedProvider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("federation: app id and secret are required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("federation: redirect url is required")
	}
	cfg.applyDefaults()

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		fragment:    cfg.Fragment,
		lang:        cfg.Lang,
		client:      cfg.HTTPClient,
	}, nil
}

// AuthCodeURL returns the URL the caller is sent to, carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	u := p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("appid", p.oauth.ClientID))
	if p.fragment != "" {
		u += "#" + p.fragment
	}
	return u
}

// Exchange trades code for an access token and resolves the caller's
// profile.
func (p *Provider) Exchange(ctx context.Context, code string) (ticketauth.ExternalProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("appid", p.oauth.ClientID),
		oauth2.SetAuthURLParam("secret", p.oauth.ClientSecret),
	)
	if err != nil {
		return ticketauth.ExternalProfile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	openID, _ := token.Extra("openid").(string)
	if openID == "" {
		return ticketauth.ExternalProfile{}, fmt.Errorf("%w: token response missing openid", ErrExchangeFailed)
	}

	info, err := p.userInfo(ctx, token.AccessToken, openID)
	if err != nil {
		return ticketauth.ExternalProfile{}, err
	}

	profile := ticketauth.ExternalProfile{
		ExternalID: openID,
		Name:       info.Nickname,
		AvatarURL:  info.HeadImgURL,
	}
	if info.OpenID != "" {
		profile.ExternalID = info.OpenID
	}
	return profile, nil
}

type userInfo struct {
	OpenID     string `json:"openid"`
	UnionID    string `json:"unionid"`
	Nickname   string `json:"nickname"`
	HeadImgURL string `json:"headimgurl"`
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

func (p *Provider) userInfo(ctx context.Context, accessToken, openID string) (userInfo, error) {
	q := url.Values{}
	q.Set("access_token", accessToken)
	q.Set("openid", openID)
	if p.lang != "" {
		q.Set("lang", p.lang)
	}

	target := p.userInfoURL
	if strings.Contains(target, "?") {
		target += "&" + q.Encode()
	} else {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return userInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return userInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return userInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return userInfo{}, fmt.Errorf("%w: status %d", ErrUserInfoFailed, resp.StatusCode)
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return userInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	if info.ErrCode != 0 {
		return userInfo{}, fmt.Errorf("%w: errcode %d %s", ErrUserInfoFailed, info.ErrCode, info.ErrMsg)
	}
	return info, nil
}
