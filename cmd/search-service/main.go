package main

import (
	"vlog-platform/internal/app"
	"vlog-platform/internal/search"
)

func main() {
	app.Main(app.Options{
		Name:      "search-service",
		Publishes: true,
		Build: func(d app.Deps) (app.Service, error) {
			return search.New(d.Storage.Projections(), d.Publisher, d.Config.Consumer.DedupRetention, d.Logger), nil
		},
	})
}
