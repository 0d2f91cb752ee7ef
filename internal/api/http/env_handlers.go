package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// EnvView is the JSON form of an environment.
type EnvView struct {
	ID      string `json:"id"`
	Parent  string `json:"parent"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Runs    uint32 `json:"runs"`
	EIP     string `json:"eip"`
	Entry   string `json:"entry"`
	ESP     string `json:"esp"`
	Upcall  string `json:"pgfault_upcall,omitempty"`
	Recving bool   `json:"ipc_recving"`
	From    string `json:"ipc_from,omitempty"`
	Value   uint32 `json:"ipc_value"`
}

// MappingView is the JSON form of one page mapping.
type MappingView struct {
	VA   string `json:"va"`
	PA   string `json:"pa"`
	Perm string `json:"perm"`
	Refs int32  `json:"refs"`
}

func hex32(v uint32) string { return fmt.Sprintf("%08x", v) }

func (h *Handlers) view(s env.Snapshot) EnvView {
	v := EnvView{
		ID:      s.ID.String(),
		Parent:  s.ParentID.String(),
		Type:    s.Type.String(),
		Status:  s.Status.String(),
		Runs:    s.Runs,
		EIP:     hex32(s.TF.EIP),
		Entry:   h.kernel.Image().Describe(s.TF.EIP),
		ESP:     hex32(s.TF.ESP),
		Recving: s.IPC.Recving,
		Value:   s.IPC.Value,
	}
	if s.PgfaultUpcall != 0 {
		v.Upcall = h.kernel.Image().Describe(s.PgfaultUpcall)
	}
	if s.IPC.From != 0 {
		v.From = s.IPC.From.String()
	}
	return v
}

func parseEnvID(c *gin.Context) (env.ID, bool) {
	v, err := strconv.ParseUint(c.Param("id"), 16, 32)
	if err != nil || v == 0 {
		fail(c, http.StatusBadRequest, "invalid environment id: "+c.Param("id"))
		return 0, false
	}
	return env.ID(v), true
}

func parseHex(c *gin.Context, key string, def uint32) (uint32, bool) {
	s := c.Query(key)
	if s == "" {
		return def, true
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("invalid %s: %s", key, s))
		return 0, false
	}
	return uint32(v), true
}

func envError(c *gin.Context, err error) {
	if errors.Is(err, errno.ErrBadEnv) {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	fail(c, http.StatusInternalServerError, err.Error())
}

// ListEnvs lists every live environment
func (h *Handlers) ListEnvs(c *gin.Context) {
	snaps := h.kernel.Envs()
	envs := make([]EnvView, 0, len(snaps))
	for _, s := range snaps {
		envs = append(envs, h.view(s))
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(envs),
		"envs":    envs,
	})
}

// GetEnv retrieves one environment
func (h *Handlers) GetEnv(c *gin.Context) {
	id, ok := parseEnvID(c)
	if !ok {
		return
	}
	s, err := h.kernel.Env(id)
	if err != nil {
		envError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"env":     h.view(s),
	})
}

// GetMappings lists the page mappings of an environment
func (h *Handlers) GetMappings(c *gin.Context) {
	id, ok := parseEnvID(c)
	if !ok {
		return
	}
	start, ok := parseHex(c, "start", 0)
	if !ok {
		return
	}
	end, ok := parseHex(c, "end", mem.UTOP)
	if !ok {
		return
	}
	maps, err := h.kernel.Mappings(id, start, end)
	if err != nil {
		envError(c, err)
		return
	}
	views := make([]MappingView, 0, len(maps))
	for _, m := range maps {
		views = append(views, MappingView{
			VA:   hex32(m.VA),
			PA:   hex32(uint32(m.PA)),
			Perm: m.Perm.String(),
			Refs: h.kernel.PageRef(m.PA),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"env":      id.String(),
		"mappings": views,
	})
}

// DestroyEnv destroys an environment
func (h *Handlers) DestroyEnv(c *gin.Context) {
	id, ok := parseEnvID(c)
	if !ok {
		return
	}
	if err := h.kernel.Destroy(id); err != nil {
		envError(c, err)
		return
	}
	h.log.ForEnv(uint32(id)).Info("env destroyed over http")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"env":     id.String(),
	})
}

// GetMem reports physical memory usage
func (h *Handlers) GetMem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"mem":     h.kernel.MemStats(),
	})
}
