package ginserver

import (
	"errors"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"peerchat/internal/app/policies"
	"peerchat/internal/infra/storage/memory"
)

// BlobHandler serves attachments held by the in-memory blob store.
type BlobHandler struct {
	Store *memory.BlobStore
}

func (h BlobHandler) Serve(c *gin.Context) {
	partition := policies.Partition(c.Param("partition"))
	key := strings.TrimPrefix(c.Param("key"), "/")
	blob, err := h.Store.Get(partition, key)
	if errors.Is(err, memory.ErrBlobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	contentType := blob.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, contentType, blob.Data)
}

var _ BlobsHTTP = BlobHandler{}
