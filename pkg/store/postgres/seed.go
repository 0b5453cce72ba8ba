package postgres

import (
	"context"
	"fmt"
)

// defaultCategories is the global category tree created on first run.
// Top-level names map to their subcategories.
var defaultCategories = []struct {
	name     string
	children []string
}{
	{"Gustos", []string{"Entretenimiento", "Restaurantes", "Compras"}},
	{"Necesidades", []string{"Alimentación", "Transporte", "Salud", "Vivienda"}},
	{"Inversiones", []string{"Ahorro", "Acciones", "Fondos"}},
	{"Deudas/Préstamos", nil},
	{"Ingresos", nil},
}

// SeedCategories creates the default global categories (user_id NULL) when
// they do not exist yet. Safe to run repeatedly.
func (s *Store) SeedCategories(ctx context.Context) error {
	for _, parent := range defaultCategories {
		var parentID int64
		err := s.pool.QueryRow(ctx, `
			SELECT id FROM categories WHERE name = $1 AND user_id IS NULL AND parent_id IS NULL
		`, parent.name).Scan(&parentID)
		if err != nil {
			err = s.pool.QueryRow(ctx, `
				INSERT INTO categories (name) VALUES ($1) RETURNING id
			`, parent.name).Scan(&parentID)
			if err != nil {
				return fmt.Errorf("seeding category %q: %w", parent.name, err)
			}
			s.logger.Info("created category", "name", parent.name)
		}

		for _, child := range parent.children {
			_, err := s.pool.Exec(ctx, `
				INSERT INTO categories (name, parent_id)
				SELECT $1, $2
				WHERE NOT EXISTS (
					SELECT 1 FROM categories
					WHERE name = $1 AND parent_id = $2 AND user_id IS NULL
				)
			`, child, parentID)
			if err != nil {
				return fmt.Errorf("seeding subcategory %q: %w", child, err)
			}
		}
	}
	return nil
}
