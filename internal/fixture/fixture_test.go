package fixture

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mockroute/internal/router"
)

const app = "http://localhost:5173"

func TestDefault(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "embedded", s.Source)
	assert.Equal(t, []string{
		"login", "me", "feed", "notifications", "suggestions", "activity", "categories", "trending",
	}, s.Names())

	t.Run("login payload", func(t *testing.T) {
		f, ok := s.Get("login")
		require.True(t, ok)
		body, err := f.Render()
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"success": true,
			"data": {
				"token": "fake-token",
				"user": {
					"id": "1",
					"username": "testuser",
					"displayName": "Test User",
					"email": "test@test.com",
					"avatarUrl": "https://ui-avatars.com/api/?name=Test+User",
					"role": "USER",
					"followerCount": 10,
					"followingCount": 5
				}
			}
		}`, string(body))
		assert.Equal(t, "application/json", f.ContentType)
	})

	t.Run("feed payload", func(t *testing.T) {
		f, ok := s.Get("feed")
		require.True(t, ok)
		body, err := f.Render()
		require.NoError(t, err)

		var got struct {
			Success bool `json:"success"`
			Data    []struct {
				ID    string   `json:"id"`
				Title string   `json:"title"`
				Tags  []string `json:"tags"`
				Likes int      `json:"likeCount"`
				User  struct {
					DisplayName string `json:"displayName"`
				} `json:"user"`
				IsLiked bool `json:"isLiked"`
			} `json:"data"`
			Pagination map[string]int `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(body, &got))

		assert.True(t, got.Success)
		require.Len(t, got.Data, 2)
		assert.Equal(t, "Delicious Pasta", got.Data[0].Title)
		assert.Equal(t, []string{"pasta", "food"}, got.Data[0].Tags)
		assert.Equal(t, 100, got.Data[0].Likes)
		assert.Equal(t, "Chef Gordon", got.Data[0].User.DisplayName)
		assert.Equal(t, "Vegan Burger", got.Data[1].Title)
		assert.True(t, got.Data[1].IsLiked)
		if diff := cmp.Diff(map[string]int{"page": 1, "limit": 20, "total": 2, "totalPages": 1}, got.Pagination); diff != "" {
			t.Errorf("pagination mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty list endpoints", func(t *testing.T) {
		for _, name := range []string{"notifications", "suggestions", "activity", "trending"} {
			f, ok := s.Get(name)
			require.True(t, ok, name)
			body, err := f.Render()
			require.NoError(t, err)
			assert.JSONEq(t, `{"success":true,"data":[]}`, string(body), name)
		}
		f, _ := s.Get("notifications")
		assert.Empty(t, f.ContentType, "notifications are served without a content type")
	})

	t.Run("categories payload", func(t *testing.T) {
		f, _ := s.Get("categories")
		body, err := f.Render()
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"data":[{"name":"Dinner","count":10},{"name":"Vegan","count":5}]}`, string(body))
	})
}

func TestDefault_InstalledRouting(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)
	r, err := router.New(router.WithScope("**/api/**"))
	require.NoError(t, err)
	require.NoError(t, s.Install(r))

	cases := map[string]string{
		"/api/auth/login":                    "login",
		"/api/auth/me":                       "me",
		"/api/posts/feed?page=1&limit=20":    "feed",
		"/api/notifications?unread=true":     "notifications",
		"/api/users/suggestions?limit=5":     "suggestions",
		"/api/users/1/activity?limit=10":     "activity",
		"/api/search/categories":             "categories",
		"/api/search/trending?period=weekly": "trending",
	}
	for path, want := range cases {
		d := r.Resolve(router.Request{Method: http.MethodGet, URL: app + path})
		assert.Equal(t, router.ActionFulfill, d.Action, path)
		assert.Equal(t, want, d.Rule, path)
		assert.Equal(t, http.StatusOK, d.Response.Status, path)
	}

	d := r.Resolve(router.Request{Method: http.MethodGet, URL: app + "/api/collections"})
	assert.True(t, d.Unmatched)
}

func TestParse(t *testing.T) {
	t.Run("set overrides", func(t *testing.T) {
		s, err := Parse([]byte(`
fixtures:
  - name: me
    pattern: "**/api/auth/me*"
    body:
      success: true
      data: {role: USER, username: testuser}
    set:
      data.role: ADMIN
      data.followerCount: 99
`), "")
		require.NoError(t, err)
		body, err := s.Fixtures[0].Render()
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"data":{"role":"ADMIN","username":"testuser","followerCount":99}}`, string(body))
	})

	t.Run("set without body starts from an empty object", func(t *testing.T) {
		s, err := Parse([]byte(`
fixtures:
  - name: flag
    pattern: "**/flag"
    set: {enabled: true}
`), "")
		require.NoError(t, err)
		body, err := s.Fixtures[0].Render()
		require.NoError(t, err)
		assert.JSONEq(t, `{"enabled":true}`, string(body))
	})

	t.Run("body file and raw body", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "feed.json"), []byte(`{"data":[1,2]}`), 0o644))
		path := filepath.Join(dir, "fixtures.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
fixtures:
  - name: feed
    pattern: "**/feed"
    body_file: feed.json
    content_type: application/json
  - name: health
    pattern: "**/health"
    raw_body: OK
    content_type: text/plain
    status: 202
    headers: {X-Mock: "1"}
`), 0o644))

		s, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, path, s.Source)

		body, err := s.Fixtures[0].Render()
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":[1,2]}`, string(body))

		resp, err := s.Fixtures[1].Response()
		require.NoError(t, err)
		assert.Equal(t, router.Response{
			Status:      202,
			ContentType: "text/plain",
			Headers:     map[string]string{"X-Mock": "1"},
			Body:        []byte("OK"),
		}, resp)
	})

	t.Run("empty document", func(t *testing.T) {
		s, err := Parse(nil, "")
		require.NoError(t, err)
		assert.Empty(t, s.Fixtures)
	})

	t.Run("errors", func(t *testing.T) {
		cases := map[string]string{
			"unknown field":     "fixtures:\n  - name: a\n    pattern: '**/a'\n    bogus: 1\n",
			"missing name":      "fixtures:\n  - pattern: '**/a'\n",
			"missing pattern":   "fixtures:\n  - name: a\n",
			"bad glob":          "fixtures:\n  - name: a\n    pattern: '{a'\n",
			"bad status":        "fixtures:\n  - name: a\n    pattern: '**/a'\n    status: 42\n",
			"two bodies":        "fixtures:\n  - name: a\n    pattern: '**/a'\n    body: {}\n    raw_body: x\n",
			"passthrough body":  "fixtures:\n  - name: a\n    pattern: '**/a'\n    passthrough: true\n    body: {}\n",
			"set on raw body":   "fixtures:\n  - name: a\n    pattern: '**/a'\n    raw_body: x\n    set: {a: 1}\n",
			"duplicate name":    "fixtures:\n  - name: a\n    pattern: '**/a'\n  - name: a\n    pattern: '**/b'\n",
			"missing body file": "fixtures:\n  - name: a\n    pattern: '**/a'\n    body_file: /does/not/exist.json\n",
			"empty condition":   "fixtures:\n  - name: a\n    pattern: '**/a'\n    when: {headers: {' ': x}}\n",
		}
		for name, doc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := Parse([]byte(doc), "")
				assert.Error(t, err)
			})
		}
	})

	t.Run("load missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestCondition(t *testing.T) {
	login := router.Request{
		Method:  http.MethodPost,
		URL:     app + "/api/auth/login?redirect=%2Ffeed",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"email":"test@test.com","password":"password","remember":true}`),
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"empty", Condition{}, true},
		{"query", Condition{Query: map[string]string{"redirect": "/f*"}}, true},
		{"query miss", Condition{Query: map[string]string{"redirect": "/explore"}}, false},
		{"query absent", Condition{Query: map[string]string{"page": "*"}}, false},
		{"header any case", Condition{Headers: map[string]string{"content-type": "application/*"}}, true},
		{"header absent", Condition{Headers: map[string]string{"Authorization": "*"}}, false},
		{"json value", Condition{JSON: map[string]string{"email": "*@test.com"}}, true},
		{"json exists", Condition{JSON: map[string]string{"remember": ""}}, true},
		{"json miss", Condition{JSON: map[string]string{"email": "admin@*"}}, false},
		{"json missing path", Condition{JSON: map[string]string{"otp": ""}}, false},
		{"body contains", Condition{BodyContains: `"password"`}, true},
		{"body contains miss", Condition{BodyContains: "otp"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Matches(login))
		})
	}

	t.Run("json on non-json body", func(t *testing.T) {
		c := Condition{JSON: map[string]string{"a": ""}}
		assert.False(t, c.Matches(router.Request{Body: []byte("a=1")}))
	})
}

func TestConditionalFixturesShareAPattern(t *testing.T) {
	s, err := Parse([]byte(`
fixtures:
  - name: login-locked
    pattern: "**/api/auth/login"
    method: post
    when:
      json: {email: "locked@*"}
    status: 423
    body: {success: false}
  - name: login
    pattern: "**/api/auth/login"
    body: {success: true}
`), "")
	require.NoError(t, err)
	r, err := router.New()
	require.NoError(t, err)
	require.NoError(t, s.Install(r))

	d := r.Resolve(router.Request{Method: "POST", URL: app + "/api/auth/login", Body: []byte(`{"email":"locked@test.com"}`)})
	assert.Equal(t, "login-locked", d.Rule)
	assert.Equal(t, 423, d.Response.Status)

	d = r.Resolve(router.Request{Method: "POST", URL: app + "/api/auth/login", Body: []byte(`{"email":"test@test.com"}`)})
	assert.Equal(t, "login", d.Rule)
	assert.Equal(t, http.StatusOK, d.Response.Status)
}

func TestSet_Without(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	trimmed, err := s.Without("feed", "trending")
	require.NoError(t, err)
	assert.Equal(t, []string{"login", "me", "notifications", "suggestions", "activity", "categories"}, trimmed.Names())
	assert.Len(t, s.Fixtures, 8, "original set is untouched")

	_, err = s.Without("fed")
	assert.Error(t, err)
}

func TestFixture_PassthroughRule(t *testing.T) {
	f := Fixture{Name: "assets", Pattern: "**/api/assets/**", Passthrough: true}
	require.NoError(t, f.Validate())
	rule, err := f.Rule()
	require.NoError(t, err)

	_, err = rule.Responder(router.Request{})
	assert.ErrorIs(t, err, router.ErrPassthrough)
}

func TestFixture_ResponderReturnsFreshBody(t *testing.T) {
	f := Fixture{Name: "x", Pattern: "**/x", RawBody: "abc"}
	rule, err := f.Rule()
	require.NoError(t, err)

	first, err := rule.Responder(router.Request{})
	require.NoError(t, err)
	first.Body[0] = 'z'

	second, err := rule.Responder(router.Request{})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(second.Body))
}
