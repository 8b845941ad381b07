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


package main

import (
	"context"
	"flag"
	"fmt"
	"regexp"
	"strings"

	"coin-shop-ledger-go/internal/common"
	"coin-shop-ledger-go/internal/config"
	"coin-shop-ledger-go/internal/models"
	"coin-shop-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("name too long (max 100 characters)")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name cannot have leading or trailing whitespace")
	}
	return nil
}

func printAccount(account *models.Account) {
	progress := models.ProgressFor(account.Rank, account.TotalXp)

	common.PrintHeader("ACCOUNT CREATED", common.DefaultWidth)
	fmt.Printf("  Id:       %s\n", account.Id)
	fmt.Printf("  Name:     %s\n", account.FullName)
	fmt.Printf("  Email:    %s\n", account.Email)
	fmt.Printf("  Role:     %s\n", account.Role)
	fmt.Printf("  Balance:  %s\n", common.FormatCoins(account.Coins))
	fmt.Printf("  Rank:     %s (%d XP)\n", account.Rank, account.TotalXp)
	fmt.Printf("  Progress: %s\n", common.ProgressBar(progress, 30))
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "Account holder's full name (required)")
	emailFlag := flag.String("email", "", "Account email address (required)")
	roleFlag := flag.String("role", string(models.RoleStudent), "Account role: student or admin")
	coinsFlag := flag.Int64("coins", 0, "Opening coin balance")
	xpFlag := flag.Int64("xp", 0, "Opening XP total")
	flag.Parse()

	if *nameFlag == "" || *emailFlag == "" {
		zap.L().Fatal("Both flags are required: --name and --email")
	}

	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}

	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}

	role, err := models.ParseRole(*roleFlag)
	if err != nil {
		zap.L().Fatal("Invalid role", zap.Error(err))
	}

	if *coinsFlag < 0 || *xpFlag < 0 {
		zap.L().Fatal("Opening coins and XP cannot be negative")
	}

	zap.L().Info("Starting account creation",
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag),
		zap.String("role", string(role)))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	account, err := services.Ledger.CreateAccount(ctx, store.CreateAccountParams{
		Id:       uuid.New().String(),
		FullName: *nameFlag,
		Email:    *emailFlag,
		Role:     role,
		Coins:    *coinsFlag,
		TotalXp:  *xpFlag,
	})
	if err != nil {
		zap.L().Fatal("Failed to create account", zap.Error(err))
	}

	zap.L().Info("Account created",
		zap.String("account_id", account.Id),
		zap.Int64("coins", account.Coins))

	printAccount(account)
}
