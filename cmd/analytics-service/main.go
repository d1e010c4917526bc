package main

import (
	"vlog-platform/internal/analytics"
	"vlog-platform/internal/app"
)

func main() {
	app.Main(app.Options{
		Name: "analytics-service",
		Build: func(d app.Deps) (app.Service, error) {
			return analytics.New(d.Storage, d.Cache, d.Config.Cache, d.Logger), nil
		},
	})
}
