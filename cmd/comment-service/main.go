package main

import (
	"vlog-platform/internal/app"
	"vlog-platform/internal/comment"
)

func main() {
	app.Main(app.Options{
		Name:      "comment-service",
		Publishes: true,
		Build: func(d app.Deps) (app.Service, error) {
			return comment.New(d.Storage, d.Cache, d.Publisher, d.Config.Cache, d.Logger), nil
		},
	})
}
