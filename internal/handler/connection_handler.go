package handler

import (
	"errors"
	"net/http"

	"agstack-go/internal/repository"
	"agstack-go/internal/service"
	"agstack-go/pkg/log"
	"agstack-go/pkg/prober"

	"github.com/gin-gonic/gin"
)

// ConnectionHandler 处理外部数据库连接相关的 API 请求。
type ConnectionHandler struct {
	service service.ConnectionService
}

// NewConnectionHandler 创建一个新的 ConnectionHandler。
func NewConnectionHandler(service service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{service: service}
}

// Create 注册并探测一个外部数据库。
func (h *ConnectionHandler) Create(c *gin.Context) {
	var req service.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "参数错误: " + err.Error(), "data": nil})
		return
	}

	result, err := h.service.CreateConnection(c.Request.Context(), req)
	if err != nil {
		status := createStatus(err)
		if status == http.StatusInternalServerError {
			log.Errorf("创建连接 %s 失败: %v", req.ConnectionName, err)
		}
		c.JSON(status, gin.H{"code": status, "message": result.Message, "data": result})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": result.Message, "data": result})
}

func createStatus(err error) int {
	var tableErr *prober.TableError
	switch {
	case errors.Is(err, repository.ErrDuplicateConnection):
		return http.StatusConflict
	case errors.Is(err, prober.ErrConnectivity), errors.Is(err, prober.ErrSchemaNotFound):
		return http.StatusBadRequest
	case errors.As(err, &tableErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// List 返回所有连接，不含密码。
func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.service.ListConnections(c.Request.Context())
	if err != nil {
		log.Errorf("获取连接列表失败: %v", err)
		internalError(c, "Failed to list connections")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conns})
}

// Delete 级联删除一个连接。
func (h *ConnectionHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.DeleteConnection(c.Request.Context(), id)
	if errors.Is(err, service.ErrConnectionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": result.Message, "data": result})
		return
	}
	if err != nil {
		log.Errorf("删除连接 %d 失败: %v", id, err)
		internalError(c, result.Message)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": result.Message, "data": result})
}

// ListTables 返回连接下已编目的表名。
func (h *ConnectionHandler) ListTables(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.ListTables(c.Request.Context(), id)
	if errors.Is(err, service.ErrConnectionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": result.Message, "data": result})
		return
	}
	if err != nil {
		log.Errorf("获取连接 %d 的表失败: %v", id, err)
		internalError(c, result.Message)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": result.Message, "data": result})
}

// ListColumns 返回某张表的列名。
func (h *ConnectionHandler) ListColumns(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cols, err := h.service.ListColumns(c.Request.Context(), id, c.Param("table"))
	if err != nil {
		log.Errorf("获取列失败: %v", err)
		internalError(c, "Failed to list columns")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": cols})
}
