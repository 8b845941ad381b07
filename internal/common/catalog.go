/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"os"
	"path/filepath"

	"coin-shop-ledger-go/internal/store"

	"gopkg.in/yaml.v2"
)

// CatalogEntry is one item of the catalog seed file.
type CatalogEntry struct {
	Id          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	CoinPrice   int64  `yaml:"coin_price"`
	Stock       int64  `yaml:"stock"`
}

type CatalogConfig struct {
	Items []CatalogEntry `yaml:"items"`
}

func LoadCatalogConfig(catalogFile string) ([]CatalogEntry, error) {
	catalogPath := catalogFile
	if !filepath.IsAbs(catalogFile) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		catalogPath = filepath.Join(wd, catalogFile)
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", catalogFile, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) ([]CatalogEntry, error) {
	var config CatalogConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(config.Items))
	for i, item := range config.Items {
		if item.Id == "" {
			return nil, fmt.Errorf("item at index %d missing id", i)
		}
		if item.Name == "" {
			return nil, fmt.Errorf("item %s missing name", item.Id)
		}
		if item.CoinPrice <= 0 {
			return nil, fmt.Errorf("item %s must have a positive coin_price", item.Id)
		}
		if item.Stock < 0 {
			return nil, fmt.Errorf("item %s has negative stock", item.Id)
		}
		if seen[item.Id] {
			return nil, fmt.Errorf("duplicate item id %s", item.Id)
		}
		seen[item.Id] = true
	}

	return config.Items, nil
}

// Params converts the entry for CreateCatalogItem.
func (e CatalogEntry) Params() store.CreateCatalogItemParams {
	return store.CreateCatalogItemParams{
		Id:          e.Id,
		Name:        e.Name,
		Description: e.Description,
		Category:    e.Category,
		CoinPrice:   e.CoinPrice,
		Stock:       e.Stock,
	}
}
