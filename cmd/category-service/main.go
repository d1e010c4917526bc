package main

import (
	"vlog-platform/internal/app"
	"vlog-platform/internal/category"
)

func main() {
	app.Main(app.Options{
		Name:      "category-service",
		Publishes: true,
		Build: func(d app.Deps) (app.Service, error) {
			return category.New(d.Storage, d.Cache, d.Publisher, d.Config.Cache, d.Logger), nil
		},
	})
}
