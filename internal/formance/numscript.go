package formance

// ---------------------------------------------------------------------------
// Numscript templates. Metadata is set inside the script via set_tx_meta() so
// every Formance transaction is self-describing. Account variables are used
// for addresses; their string twins (*_key) carry the same ids into metadata.
// ---------------------------------------------------------------------------

// numscriptCredit mints coins from @world into a student account.
// Used for opening balances and awards.
const numscriptCredit = `vars {
  account $account_id
  number $amount
  string $account_key
  string $event_type
  string $reason
}

send [COIN $amount] (
  source = @world
  destination = @students:$account_id
)

set_tx_meta("event_type", $event_type)
set_tx_meta("account_id", $account_key)
set_tx_meta("reason", $reason)
`

// numscriptStock mints stock units for a catalog item.
const numscriptStock = `vars {
  account $item_id
  number $quantity
  string $item_key
  string $event_type
}

send [UNIT $quantity] (
  source = @world
  destination = @catalog:$item_id:stock
)

set_tx_meta("event_type", $event_type)
set_tx_meta("item_id", $item_key)
`

// numscriptRedeem debits the student and moves one unit of stock in a single
// transaction. Neither source allows overdraft, so the ledger rejects the whole
// transaction with INSUFFICIENT_FUND when either balance is short.
const numscriptRedeem = `vars {
  account $account_id
  account $item_id
  number $price
  string $account_key
  string $item_key
  string $item_name
  string $idempotency_key
  string $source
  string $created_at
}

send [COIN $price] (
  source = @students:$account_id
  destination = @shop:revenue
)

send [UNIT 1] (
  source = @catalog:$item_id:stock
  destination = @students:$account_id:items
)

set_tx_meta("event_type", "redemption")
set_tx_meta("account_id", $account_key)
set_tx_meta("item_id", $item_key)
set_tx_meta("item_name", $item_name)
set_tx_meta("idempotency_key", $idempotency_key)
set_tx_meta("source", $source)
set_tx_meta("created_at", $created_at)
`
