package provider

import (
	"golang.org/x/oauth2"

	"github.com/hitoshi/authman/internal/model"
)

// newTwitterAdapter はTwitter(X) OAuth 2.0アダプターを生成する。
// v2 APIのユーザープロフィールは "data" キーの下にネストされている。
func newTwitterAdapter() *Adapter {
	return &Adapter{
		Name:  "twitter",
		Title: "Twitter",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://twitter.com/i/oauth2/authorize",
			TokenURL: "https://api.twitter.com/2/oauth2/token",
		},
		Scopes:     []string{"users.read", "tweet.read"},
		ProfileURL: "https://api.twitter.com/2/users/me",
		idField:    "id",
		envelope:   "data",
		project: func(profile map[string]any) model.ProfileData {
			data := model.ProfileData{
				"name": stringField(profile, "name"),
			}
			if username := stringField(profile, "username"); username != "" {
				data["url"] = "https://twitter.com/" + username
			}
			return data
		},
	}
}

// newFacebookAdapter はFacebookアダプターを生成する。
func newFacebookAdapter() *Adapter {
	return &Adapter{
		Name:  "facebook",
		Title: "Facebook",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://www.facebook.com/dialog/oauth",
			TokenURL: "https://graph.facebook.com/oauth/access_token",
		},
		Scopes:     []string{"public_profile"},
		ProfileURL: "https://graph.facebook.com/me?fields=id,name",
		idField:    "id",
		project: func(profile map[string]any) model.ProfileData {
			data := model.ProfileData{
				"name": stringField(profile, "name"),
			}
			if id := stringifyID(profile["id"]); id != "" {
				data["url"] = "https://www.facebook.com/" + id
			}
			return data
		},
	}
}

// newGoogleAdapter はGoogleアダプターを生成する。
// OpenID Connect userinfoエンドポイントを使用するため、安定識別子は "sub"。
func newGoogleAdapter() *Adapter {
	return &Adapter{
		Name:  "google",
		Title: "Google",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes:     []string{"profile"},
		ProfileURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		idField:    "sub",
		project: func(profile map[string]any) model.ProfileData {
			return model.ProfileData{
				"name": stringField(profile, "name"),
			}
		},
	}
}

// newGitHubAdapter はGitHubアダプターを生成する。
// GitHubのユーザーIDはJSON数値で返される点に注意。
func newGitHubAdapter() *Adapter {
	return &Adapter{
		Name:  "github",
		Title: "GitHub",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		Scopes:     []string{"read:user"},
		ProfileURL: "https://api.github.com/user",
		idField:    "id",
		project: func(profile map[string]any) model.ProfileData {
			return model.ProfileData{
				"name": stringField(profile, "name"),
				"url":  stringField(profile, "html_url"),
			}
		},
	}
}
