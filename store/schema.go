package store

// schema.go - ClickHouse table DDL, executed at startup

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS ticks (
		tick_number UInt64,
		epoch       UInt32,
		timestamp   DateTime64(3),
		tx_count    UInt32,
		log_count   UInt32
	) ENGINE = ReplacingMergeTree
	ORDER BY tick_number`,

	`CREATE TABLE IF NOT EXISTS transactions (
		hash          String,
		tick_number   UInt64,
		epoch         UInt32,
		from_address  String,
		to_address    String,
		amount        Int64,
		input_type    UInt16,
		input_data    String,
		executed      UInt8,
		log_id_from   UInt64,
		log_id_length UInt64,
		timestamp     DateTime64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY (tick_number, hash)`,

	`CREATE TABLE IF NOT EXISTS logs (
		epoch       UInt32,
		log_id      UInt64,
		tick_number UInt64,
		log_type    UInt8,
		tx_hash     String,
		source      String,
		dest        String,
		amount      Int64,
		asset_name  String,
		raw_data    String,
		timestamp   DateTime64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY (epoch, log_id)`,

	`CREATE TABLE IF NOT EXISTS epoch_meta (
		epoch                 UInt32,
		initial_tick          UInt64,
		end_tick              UInt64,
		end_tick_start_log_id UInt64,
		end_tick_end_log_id   UInt64,
		is_complete           UInt8,
		stats_computed        UInt8,
		tx_count              UInt64,
		transfer_volume       UInt64,
		burn_total            UInt64,
		active_addresses      UInt64,
		reward_per_share      UInt64,
		updated_at            DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY epoch`,

	`CREATE TABLE IF NOT EXISTS computors (
		epoch   UInt32,
		idx     UInt16,
		address String
	) ENGINE = ReplacingMergeTree
	ORDER BY (epoch, idx)`,

	`CREATE TABLE IF NOT EXISTS computor_emissions (
		epoch         UInt32,
		address       String,
		amount        Int64,
		emission_tick UInt64,
		timestamp     DateTime64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY (epoch, address)`,

	`CREATE TABLE IF NOT EXISTS emission_imports (
		epoch          UInt32,
		computor_count UInt32,
		total_emission Int64,
		emission_tick  UInt64,
		imported_at    DateTime64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY epoch`,

	`CREATE TABLE IF NOT EXISTS balance_snapshots (
		epoch                UInt32,
		address              String,
		balance              Int64,
		incoming_amount      Int64,
		outgoing_amount      Int64,
		num_incoming         UInt32,
		num_outgoing         UInt32,
		latest_incoming_tick UInt32,
		latest_outgoing_tick UInt32
	) ENGINE = ReplacingMergeTree
	ORDER BY (epoch, address)`,

	`CREATE TABLE IF NOT EXISTS spectrum_imports (
		epoch        UInt32,
		tick_number  UInt64,
		record_count UInt64,
		file_size    Int64,
		duration_ms  Int64,
		imported_at  DateTime64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY epoch`,

	`CREATE TABLE IF NOT EXISTS asset_snapshots (
		epoch                    UInt32,
		issuer                   String,
		asset_name               String,
		holder                   String,
		record_type              String,
		managing_contract_index  UInt16,
		number_of_shares         Int64,
		number_of_decimal_places Int8
	) ENGINE = MergeTree
	ORDER BY (epoch, issuer, asset_name, record_type, holder)`,

	`CREATE TABLE IF NOT EXISTS universe_imports (
		epoch        UInt32,
		tick_number  UInt64,
		record_count UInt64,
		file_size    Int64,
		duration_ms  Int64,
		imported_at  DateTime64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY epoch`,

	`CREATE TABLE IF NOT EXISTS holder_distribution_history (
		epoch         UInt32,
		snapshot_at   DateTime64(3),
		tick_start    UInt64,
		tick_end      UInt64,
		total_holders UInt64,
		whale_count   UInt64,
		large_count   UInt64,
		medium_count  UInt64,
		small_count   UInt64,
		micro_count   UInt64,
		total_balance Int64,
		top10_share   Float64,
		top50_share   Float64,
		top100_share  Float64,
		data_source   String
	) ENGINE = MergeTree
	ORDER BY tick_start`,

	`CREATE TABLE IF NOT EXISTS network_stats_history (
		epoch             UInt32,
		snapshot_at       DateTime64(3),
		tick_start        UInt64,
		tick_end          UInt64,
		tx_count          UInt64,
		transfer_count    UInt64,
		transfer_volume   Int64,
		unique_senders    UInt64,
		unique_receivers  UInt64,
		exchange_inflow   Int64,
		exchange_outflow  Int64,
		exchange_net_flow Int64,
		sc_call_count     UInt64
	) ENGINE = MergeTree
	ORDER BY tick_start`,

	`CREATE TABLE IF NOT EXISTS burn_stats_history (
		epoch               UInt32,
		snapshot_at         DateTime64(3),
		tick_start          UInt64,
		tick_end            UInt64,
		burn_count          UInt64,
		burn_total          Int64,
		dust_burn_count     UInt64,
		dust_burn_total     Int64,
		transfer_burn_count UInt64,
		transfer_burn_total Int64,
		unique_burners      UInt64,
		largest_burn        Int64,
		cumulative_burned   Int64
	) ENGINE = MergeTree
	ORDER BY tick_start`,

	`CREATE TABLE IF NOT EXISTS miner_flow_stats (
		emission_epoch      UInt32,
		current_epoch       UInt32,
		snapshot_at         DateTime64(3),
		tick_start          UInt64,
		tick_end            UInt64,
		transfers_processed UInt64,
		hops_written        UInt64,
		active_states       UInt64,
		completed_states    UInt64,
		total_emission      Int64,
		total_to_exchanges  Int64,
		total_to_contracts  Int64,
		total_pending       Int64,
		additional_inflow   Int64
	) ENGINE = MergeTree
	ORDER BY tick_start`,

	`CREATE TABLE IF NOT EXISTS flow_tracking_state (
		emission_epoch UInt32,
		address        String,
		origin         String,
		address_type   String,
		received       Int64,
		sent           Int64,
		pending        Int64,
		hop_level      UInt8,
		is_terminal    UInt8,
		is_complete    UInt8,
		updated_at     DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (emission_epoch, address, origin)`,

	`CREATE TABLE IF NOT EXISTS flow_hops (
		emission_epoch UInt32,
		current_epoch  UInt32,
		tick_number    UInt64,
		log_id         UInt64,
		tx_hash        String,
		source         String,
		dest           String,
		amount         Int64,
		origin         String,
		hop_level      UInt8,
		dest_type      String,
		dest_label     String,
		timestamp      DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (emission_epoch, tick_number, log_id)`,

	`CREATE TABLE IF NOT EXISTS push_subscriptions (
		id         String,
		endpoint   String,
		p256dh     String,
		auth       String,
		addresses  Array(String),
		events     Array(String),
		threshold  Int64,
		created_at DateTime64(3),
		deleted    UInt8 DEFAULT 0,
		updated_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY id`,

	`CREATE TABLE IF NOT EXISTS notification_log (
		subscription_id String,
		address         String,
		tick_number     UInt64,
		sent_at         DateTime64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY (subscription_id, address, tick_number)`,
}
