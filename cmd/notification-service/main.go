package main

import (
	"vlog-platform/internal/app"
	"vlog-platform/internal/notification"
)

func main() {
	app.Main(app.Options{
		Name: "notification-service",
		Build: func(d app.Deps) (app.Service, error) {
			return notification.New(d.Storage, d.Cache, d.Config.Cache, d.Logger), nil
		},
	})
}
