package gateway

import (
	"net/http"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/service"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// dashboard godoc
// @Summary Admin dashboard figures
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Router /api/admin/analytics/dashboard [get]
func (g *Gateway) dashboard(c *gin.Context) {
	var (
		stats   *service.Dashboard
		popular []service.PopularProduct
		recent  []service.Activity
	)
	limit := queryInt(c, "limit")
	eg, ctx := errgroup.WithContext(c.Request.Context())
	eg.Go(func() (err error) {
		stats, err = g.services.Reports.Dashboard(ctx)
		return err
	})
	eg.Go(func() (err error) {
		popular, err = g.services.Reports.PopularProducts(ctx, limit)
		return err
	})
	eg.Go(func() (err error) {
		recent, err = g.services.Reports.RecentActivity(ctx, 10)
		return err
	})
	if err := eg.Wait(); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":            stats,
		"popular_products": popular,
		"recent_activity":  recent,
	})
}

func (g *Gateway) customers(c *gin.Context) {
	customers, err := g.services.Reports.Customers(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (g *Gateway) getSettings(c *gin.Context) {
	st, err := g.services.Store.Settings(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": st})
}

func (g *Gateway) saveSettings(c *gin.Context) {
	var in service.SettingsInput
	if !g.bind(c, &in) {
		return
	}
	st, err := g.services.Store.SaveSettings(c.Request.Context(), in, principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Settings saved", "settings": st})
}

func (g *Gateway) getLayout(c *gin.Context) {
	layout, err := g.services.Store.Layout(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"aisles": layout})
}

type layoutRequest struct {
	Aisles []service.AisleInput `json:"aisles"`
}

func (g *Gateway) saveLayout(c *gin.Context) {
	var req layoutRequest
	if !g.bind(c, &req) {
		return
	}
	layout, err := g.services.Store.ReplaceLayout(c.Request.Context(), req.Aisles, principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Store layout saved", "aisles": layout})
}

// auditLogs returns the newest entries for one entity, e.g. entity=order:12.
// Without an audit store the list is empty.
func (g *Gateway) auditLogs(c *gin.Context) {
	if g.services.Audit == nil {
		c.JSON(http.StatusOK, gin.H{"logs": []interface{}{}})
		return
	}
	entity := c.Query("entity")
	if entity == "" {
		g.fail(c, apperr.Validation("entity is required"))
		return
	}
	limit := int64(queryInt(c, "limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	logs, err := g.services.Audit.GetAuditLogs(c.Request.Context(), entity, limit)
	if err != nil {
		g.fail(c, apperr.Internal(err, "failed to load audit logs"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
