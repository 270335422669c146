package main

import (
	"encoding/json"
	"net/http"

	"dmr/config"
)

type siteList struct {
	Default string   `json:"default"`
	Sites   []string `json:"sites"`
}

// GetSitesHandler lists the configured sites. Credentials stay in the env
// files and are never returned.
func GetSitesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		cfg := config.GetConfig()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(siteList{Default: cfg.DefaultSite, Sites: cfg.SiteNames()})
	}
}
