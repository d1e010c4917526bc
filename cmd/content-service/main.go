package main

import (
	"vlog-platform/internal/app"
	"vlog-platform/internal/content"
)

func main() {
	app.Main(app.Options{
		Name:      "content-service",
		Publishes: true,
		Build: func(d app.Deps) (app.Service, error) {
			return content.New(d.Storage, d.Cache, d.Publisher, d.Config.Cache, d.Logger), nil
		},
	})
}
