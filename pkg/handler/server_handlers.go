// Server registry HTTP handlers
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/event"
	"github.com/opsloom/opsloom/pkg/models"
	"github.com/opsloom/opsloom/pkg/service"
)

// ServerHandler handles managed server HTTP requests.
type ServerHandler struct {
	store     *service.ChatStore
	discovery *service.DiscoveryService
}

// NewServerHandler creates a new server handler.
func NewServerHandler(store *service.ChatStore, discovery *service.DiscoveryService) *ServerHandler {
	return &ServerHandler{
		store:     store,
		discovery: discovery,
	}
}

// RegisterRoutes registers server routes.
func (h *ServerHandler) RegisterRoutes(r *gin.RouterGroup) {
	servers := r.Group("/servers")
	{
		servers.POST("", h.CreateServer)
		servers.GET("", h.ListServers)
		servers.GET("/:id", h.GetServer)
		servers.PATCH("/:id", h.UpdateServer)
		servers.DELETE("/:id", h.DeleteServer)
		servers.POST("/:id/discover", h.DiscoverServer)
		servers.POST("/:id/test", h.TestServer)
	}
}

func validAuthMethod(m string) bool {
	switch m {
	case db.AuthMethodPassword, db.AuthMethodKey, db.AuthMethodKeyFile:
		return true
	}
	return false
}

// CreateServer registers a new server.
// POST /api/servers
func (h *ServerHandler) CreateServer(c *gin.Context) {
	var req models.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AuthMethod != "" && !validAuthMethod(req.AuthMethod) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auth_method must be password, key or keyfile"})
		return
	}

	srv := &db.Server{
		Name:       req.Name,
		Host:       req.Host,
		Port:       req.Port,
		User:       req.User,
		AuthMethod: req.AuthMethod,
		Password:   req.Password,
		PrivateKey: req.PrivateKey,
		KeyPath:    req.KeyPath,
		Tags:       req.Tags,
	}
	if err := h.store.CreateServer(srv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	event.Emit(event.ServerCreatedEvent{ServerID: srv.ID})
	c.JSON(http.StatusCreated, srv)
}

// ListServers lists registered servers.
// GET /api/servers
func (h *ServerHandler) ListServers(c *gin.Context) {
	servers, err := h.store.ListServers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// GetServer gets a server by ID.
// GET /api/servers/:id
func (h *ServerHandler) GetServer(c *gin.Context) {
	srv, err := h.store.GetServer(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, srv)
}

// UpdateServer updates server fields. Nil fields leave the stored values
// unchanged, including credentials.
// PATCH /api/servers/:id
func (h *ServerHandler) UpdateServer(c *gin.Context) {
	srv, err := h.store.GetServer(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req models.UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.AuthMethod != nil && !validAuthMethod(*req.AuthMethod) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auth_method must be password, key or keyfile"})
		return
	}

	if req.Name != nil {
		srv.Name = *req.Name
	}
	if req.Host != nil {
		srv.Host = *req.Host
	}
	if req.Port != nil {
		srv.Port = *req.Port
	}
	if req.User != nil {
		srv.User = *req.User
	}
	if req.AuthMethod != nil {
		srv.AuthMethod = *req.AuthMethod
	}
	if req.Password != nil {
		srv.Password = *req.Password
	}
	if req.PrivateKey != nil {
		srv.PrivateKey = *req.PrivateKey
	}
	if req.KeyPath != nil {
		srv.KeyPath = *req.KeyPath
	}
	if req.Tags != nil {
		srv.Tags = req.Tags
	}

	if err := h.store.UpdateServer(srv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	event.Emit(event.ServerUpdatedEvent{ServerID: srv.ID})
	c.JSON(http.StatusOK, srv)
}

// DeleteServer removes a server.
// DELETE /api/servers/:id
func (h *ServerHandler) DeleteServer(c *gin.Context) {
	id := c.Param("id")

	if err := h.store.DeleteServer(id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	event.Emit(event.ServerDeletedEvent{ServerID: id})
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// DiscoverServer runs the discovery probe set and stores the facts.
// POST /api/servers/:id/discover
func (h *ServerHandler) DiscoverServer(c *gin.Context) {
	srv, err := h.discovery.Discover(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, srv)
}

// TestServer checks SSH reachability without persisting anything.
// POST /api/servers/:id/test
func (h *ServerHandler) TestServer(c *gin.Context) {
	if err := h.discovery.TestConnection(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusOK, gin.H{"reachable": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reachable": true})
}
