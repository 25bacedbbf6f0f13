package posts

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"familybook/internal/api/respond"
	"familybook/internal/apperr"
	"familybook/internal/domain/issues"
	"familybook/internal/infra/assets"
	"familybook/internal/service/lifecycle"
	"familybook/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const MaxImageBytes = 10 << 20

type AssetStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Handler struct {
	db        *gorm.DB
	lifecycle *lifecycle.Service
	assets    AssetStore
}

func NewHandler(db *gorm.DB, lc *lifecycle.Service, as AssetStore) *Handler {
	return &Handler{db: db, lifecycle: lc, assets: as}
}

func (h *Handler) CreatePost(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	var in lifecycle.PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, "Invalid request body")
		return
	}
	post, err := h.lifecycle.CreatePost(c.Request.Context(), caller, in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *Handler) UpdatePost(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	var in lifecycle.PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, "Invalid request body")
		return
	}
	post, err := h.lifecycle.UpdatePost(c.Request.Context(), caller, c.Param("id"), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

type UploadedImage struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// UploadImages stores up to four images for a post that is about to be
// written. The returned keys and urls go into the post body.
func (h *Handler) UploadImages(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		respond.BadRequest(c, "Expected multipart form")
		return
	}
	groupID := c.PostForm("group_id")
	if groupID == "" {
		respond.BadRequest(c, "group_id is required")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		respond.BadRequest(c, "No images uploaded")
		return
	}
	if len(files) > issues.MaxImages {
		respond.Error(c, apperr.Validation("too_many_images", fmt.Sprintf("at most %d images per post", issues.MaxImages)))
		return
	}

	member, err := store.MemberOf(h.db.WithContext(c.Request.Context()), groupID, caller.UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if member == nil && !caller.IsAdmin() {
		respond.Error(c, apperr.Permission(apperr.ScopeMember, "only group members can upload images"))
		return
	}

	out := make([]UploadedImage, 0, len(files))
	for _, fh := range files {
		if fh.Size > MaxImageBytes {
			respond.Error(c, apperr.Validation("image_too_large", fmt.Sprintf("%s is larger than 10 MB", fh.Filename)))
			return
		}
		ct := fh.Header.Get("Content-Type")
		ext, ok := assets.ImageExt(ct)
		if !ok {
			respond.Error(c, apperr.Validation("unsupported_image_type", fmt.Sprintf("%s has unsupported type %q", fh.Filename, ct)))
			return
		}

		f, err := fh.Open()
		if err != nil {
			respond.BadRequest(c, "Could not read upload")
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
		f.Close()
		if err != nil {
			respond.BadRequest(c, "Could not read upload")
			return
		}

		key := assets.PostImageKey(groupID, ext)
		url, err := h.assets.Put(c.Request.Context(), key, data, ct)
		if err != nil {
			respond.Error(c, apperr.Dependency("asset_upload_failed", "could not store image", err))
			return
		}
		out = append(out, UploadedImage{Key: key, URL: url})
	}

	c.JSON(http.StatusCreated, gin.H{"images": out})
}
