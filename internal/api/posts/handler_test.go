package posts

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"familybook/internal/domain/issues"
	"familybook/internal/service/lifecycle"
	"familybook/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndUpdatePost(t *testing.T) {
	db := testutil.NewTestDB(t)
	leader := testutil.NewUser(t, db, "mina")
	g, issue := testutil.NewGroup(t, db, leader, testutil.Date(2026, 10, 25))
	h := NewHandler(db, lifecycle.New(db, &testutil.FakeRenderer{}, &testutil.FakeNotifier{}), &testutil.FakeAssets{})

	r := testutil.NewRouter(leader)
	r.POST("/posts", h.CreatePost)
	r.PUT("/posts/:id", h.UpdatePost)

	w := testutil.Do(t, r, http.MethodPost, "/posts", gin.H{"group_id": g.ID, "content": "<b>first</b> steps"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var post issues.Post
	testutil.Decode(t, w, &post)
	assert.Equal(t, issue.ID, post.IssueID)
	assert.Equal(t, "first steps", post.Content)

	w = testutil.Do(t, r, http.MethodPut, "/posts/"+post.ID, gin.H{"group_id": g.ID, "content": "edited"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	testutil.CloseIssueDirect(t, db, issue)
	w = testutil.Do(t, r, http.MethodPut, "/posts/"+post.ID, gin.H{"group_id": g.ID, "content": "too late"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreatePostValidation(t *testing.T) {
	db := testutil.NewTestDB(t)
	leader := testutil.NewUser(t, db, "mina")
	g, _ := testutil.NewGroup(t, db, leader, testutil.Date(2026, 10, 25))
	h := NewHandler(db, lifecycle.New(db, &testutil.FakeRenderer{}, &testutil.FakeNotifier{}), &testutil.FakeAssets{})

	r := testutil.NewRouter(leader)
	r.POST("/posts", h.CreatePost)

	w := testutil.Do(t, r, http.MethodPost, "/posts", gin.H{"group_id": g.ID, "content": strings.Repeat("a", 101)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	outsider := testutil.NewUser(t, db, "jun")
	r = testutil.NewRouter(outsider)
	r.POST("/posts", h.CreatePost)
	w = testutil.Do(t, r, http.MethodPost, "/posts", gin.H{"group_id": g.ID, "content": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

type upload struct {
	name        string
	contentType string
	size        int
}

func multipartRequest(t *testing.T, groupID string, files ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("group_id", groupID))
	for _, f := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, f.name))
		hdr.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte{0xff}, f.size))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/posts/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadImages(t *testing.T) {
	db := testutil.NewTestDB(t)
	leader := testutil.NewUser(t, db, "mina")
	g, _ := testutil.NewGroup(t, db, leader, testutil.Date(2026, 10, 25))
	store := &testutil.FakeAssets{}
	h := NewHandler(db, lifecycle.New(db, &testutil.FakeRenderer{}, &testutil.FakeNotifier{}), store)

	r := testutil.NewRouter(leader)
	r.POST("/posts/images", h.UploadImages)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, g.ID,
		upload{"a.jpg", "image/jpeg", 128},
		upload{"b.png", "image/png", 64},
	))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Images []UploadedImage `json:"images"`
	}
	testutil.Decode(t, w, &resp)
	require.Len(t, resp.Images, 2)
	assert.True(t, strings.HasPrefix(resp.Images[0].Key, "groups/"+g.ID+"/posts/"))
	assert.True(t, strings.HasSuffix(resp.Images[0].Key, ".jpg"))
	assert.Equal(t, "https://cdn.example.com/"+resp.Images[1].Key, resp.Images[1].URL)
	assert.Len(t, store.Objects, 2)
}

func TestUploadImagesRejects(t *testing.T) {
	db := testutil.NewTestDB(t)
	leader := testutil.NewUser(t, db, "mina")
	g, _ := testutil.NewGroup(t, db, leader, testutil.Date(2026, 10, 25))
	store := &testutil.FakeAssets{}
	h := NewHandler(db, lifecycle.New(db, &testutil.FakeRenderer{}, &testutil.FakeNotifier{}), store)

	r := testutil.NewRouter(leader)
	r.POST("/posts/images", h.UploadImages)

	img := upload{"a.jpg", "image/jpeg", 16}
	tests := []struct {
		name  string
		files []upload
		code  int
	}{
		{"too many", []upload{img, img, img, img, img}, http.StatusBadRequest},
		{"wrong type", []upload{{"a.pdf", "application/pdf", 16}}, http.StatusBadRequest},
		{"none", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, multipartRequest(t, g.ID, tt.files...))
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, store.Objects)

	outsider := testutil.NewUser(t, db, "jun")
	r = testutil.NewRouter(outsider)
	r.POST("/posts/images", h.UploadImages)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, g.ID, img))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
