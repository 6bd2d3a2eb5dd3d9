// Package seed loads demo accounts and products from a YAML fixture.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/service"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Account struct {
	service.RegisterRequest `yaml:",inline"`
	Role                    models.Role `yaml:"role"`
}

type Fixture struct {
	Users    []Account              `yaml:"users"`
	Products []service.ProductInput `yaml:"products"`
}

func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return &f, nil
}

type Result struct {
	UsersCreated    int
	ProductsCreated int
}

// Seeder applies fixtures idempotently: accounts that already exist and
// products whose name is already in the catalog are skipped.
type Seeder struct {
	db      *gorm.DB
	auth    *service.AuthService
	catalog *service.CatalogService
	logger  *zap.Logger
}

func NewSeeder(db *gorm.DB, auth *service.AuthService, catalog *service.CatalogService, logger *zap.Logger) *Seeder {
	return &Seeder{db: db, auth: auth, catalog: catalog, logger: logger}
}

func (s *Seeder) Apply(ctx context.Context, f *Fixture) (*Result, error) {
	res := &Result{}

	for _, a := range f.Users {
		role := a.Role
		if role == "" {
			role = models.RoleCustomer
		}
		_, err := s.auth.CreateAccount(ctx, a.RegisterRequest, role)
		switch {
		case errors.Is(err, apperr.ErrConflict):
			s.logger.Debug("account exists, skipping", zap.String("username", a.Username))
		case err != nil:
			return res, fmt.Errorf("seed user %s: %w", a.Username, err)
		default:
			res.UsersCreated++
		}
	}

	missing, err := s.missingProducts(ctx, f.Products)
	if err != nil {
		return res, err
	}
	if len(missing) > 0 {
		created, err := s.catalog.BulkCreate(ctx, missing, 0)
		if err != nil {
			return res, fmt.Errorf("seed products: %w", err)
		}
		res.ProductsCreated = len(created)
	}

	s.logger.Info("fixtures applied",
		zap.Int("users_created", res.UsersCreated),
		zap.Int("products_created", res.ProductsCreated))
	return res, nil
}

func (s *Seeder) missingProducts(ctx context.Context, products []service.ProductInput) ([]service.ProductInput, error) {
	if len(products) == 0 {
		return nil, nil
	}
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = strings.TrimSpace(p.Name)
	}
	var existing []string
	err := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("name IN ?", names).
		Pluck("name", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up products: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}

	var missing []service.ProductInput
	for i, p := range products {
		if !have[names[i]] {
			missing = append(missing, p)
		}
	}
	return missing, nil
}
