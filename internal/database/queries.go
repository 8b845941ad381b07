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

package database

// Queries use ? placeholders; dialect.q rebinds them for Postgres.
const (
	// Account queries
	accountColumns = `id, full_name, email, role, coins, total_xp, rank, events_attended, version, created_at, updated_at`

	queryGetAccounts = `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY created_at, id`

	queryGetAccountById = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = ?`

	queryGetAccountByEmail = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE LOWER(email) = LOWER(?)`

	queryGetAccountIdByEmail = `
		SELECT id
		FROM accounts
		WHERE LOWER(email) = LOWER(?)`

	queryInsertAccount = `
		INSERT INTO accounts (id, full_name, email, role, coins, total_xp, rank, events_attended, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)`

	queryGetAccountCoins = `
		SELECT coins
		FROM accounts
		WHERE id = ?`

	queryCreditAccount = `
		UPDATE accounts
		SET coins = coins + ?, total_xp = total_xp + ?, events_attended = events_attended + ?,
			version = version + 1, updated_at = ?
		WHERE id = ?
		RETURNING coins, total_xp`

	queryUpdateAccountRank = `
		UPDATE accounts
		SET rank = ?
		WHERE id = ? AND rank <> ?`

	// Conditional debit: matches no row when the balance cannot cover the price.
	queryDebitAccount = `
		UPDATE accounts
		SET coins = coins - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND coins >= ?
		RETURNING coins`

	// Catalog queries
	catalogColumns = `id, name, description, category, coin_price, stock, version, created_at, updated_at`

	queryInsertCatalogItem = `
		INSERT INTO catalog_items (id, name, description, category, coin_price, stock, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`

	queryGetCatalogItem = `
		SELECT ` + catalogColumns + `
		FROM catalog_items
		WHERE id = ?`

	queryListCatalog = `
		SELECT ` + catalogColumns + `
		FROM catalog_items
		ORDER BY coin_price ASC, name ASC`

	queryListCatalogInStock = `
		SELECT ` + catalogColumns + `
		FROM catalog_items
		WHERE stock > 0
		ORDER BY coin_price ASC, name ASC`

	queryRestockItem = `
		UPDATE catalog_items
		SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ?`

	queryGetItemForRedeem = `
		SELECT name, coin_price, stock
		FROM catalog_items
		WHERE id = ?`

	// Conditional decrement: matches no row once the item is sold out.
	queryDecrementStock = `
		UPDATE catalog_items
		SET stock = stock - 1, version = version + 1, updated_at = ?
		WHERE id = ? AND stock >= 1
		RETURNING stock`

	// Redemption queries
	redemptionColumns = `id, account_id, item_id, item_name, coins_charged, idempotency_key, status,
		failure_reason, balance_before, balance_after, source, created_at, completed_at`

	queryInsertRedemption = `
		INSERT INTO redemptions (id, account_id, item_id, item_name, coins_charged, idempotency_key, status,
			failure_reason, balance_before, balance_after, source, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertFailedRedemption = `
		INSERT INTO redemptions (id, account_id, item_id, item_name, coins_charged, idempotency_key, status,
			failure_reason, balance_before, balance_after, source, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, idempotency_key) DO NOTHING`

	queryCompleteRedemption = `
		UPDATE redemptions
		SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`

	queryFindRedemption = `
		SELECT ` + redemptionColumns + `
		FROM redemptions
		WHERE account_id = ? AND idempotency_key = ?`

	queryGetRedemptionHistory = `
		SELECT ` + redemptionColumns + `
		FROM redemptions
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	// Journal queries
	queryInsertCoinTransaction = `
		INSERT INTO coin_transactions (id, account_id, amount, reason, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryCheckDuplicateReference = `
		SELECT id
		FROM coin_transactions
		WHERE reference = ?`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0)
		FROM coin_transactions
		WHERE account_id = ?`

	// Reporting queries
	queryGetLeaderboard = `
		SELECT full_name, coins, rank
		FROM accounts
		WHERE role = 'student'
		ORDER BY coins DESC, full_name ASC
		LIMIT ?`

	queryStatsAccounts = `
		SELECT COUNT(*), COALESCE(SUM(coins), 0)
		FROM accounts
		WHERE role = 'student'`

	queryStatsCatalog = `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN stock > 0 THEN 1 ELSE 0 END), 0)
		FROM catalog_items`

	queryStatsRedemptions = `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN coins_charged ELSE 0 END), 0)
		FROM redemptions`
)
