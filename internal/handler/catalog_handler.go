package handler

import (
	"net/http"
	"strconv"

	"agstack-go/internal/service"
	"agstack-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// CatalogHandler 处理目录检索请求。
type CatalogHandler struct {
	service service.CatalogService
}

// NewCatalogHandler 创建一个新的 CatalogHandler。
func NewCatalogHandler(service service.CatalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// Search 处理 GET /catalog/search?q=&size=。
func (h *CatalogHandler) Search(c *gin.Context) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	hits, err := h.service.Search(c.Request.Context(), c.Query("q"), size)
	if err != nil {
		log.Errorf("目录检索失败: %v", err)
		internalError(c, "Catalog search failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": hits})
}
