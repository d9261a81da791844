package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type reportHandler struct {
	repo *repository.ReportRepository
}

type reportView struct {
	ID         uint64    `json:"id"`
	ReporterID int64     `json:"reporter_id"`
	ReportedID int64     `json:"reported_id"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// List returns reports newest first.
//
// Query: reported_id (optional), page_token, limit (1..100, default 20).
func (h *reportHandler) List(c *gin.Context) {
	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	var reported *session.UserID
	if v := c.Query("reported_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "reported_id must be an integer"})
			return
		}
		reported = &id
	}

	var token *string
	if v := c.Query("page_token"); v != "" {
		token = &v
	}

	reports, next, err := h.repo.List(c.Request.Context(), reported, token, limit)
	if err != nil {
		st := status.Convert(svcErr.Map(err))
		if st.Code() == codes.InvalidArgument {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": st.Message()})
			return
		}
		logger.Error("list reports failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": st.Message()})
		return
	}

	out := make([]reportView, 0, len(reports))
	for _, r := range reports {
		out = append(out, reportView{
			ID:         r.ID,
			ReporterID: r.ReporterID,
			ReportedID: r.ReportedID,
			Reason:     r.Reason,
			CreatedAt:  r.CreatedAt,
		})
	}
	resp := gin.H{"reports": out}
	if next != nil {
		resp["next_page_token"] = *next
	}
	c.JSON(http.StatusOK, resp)
}
