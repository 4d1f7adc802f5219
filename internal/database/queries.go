package database

// Mailbox queries
const (
	InsertMessageQuery = `
		INSERT INTO messages (sender, recipient, body, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)
	`

	selectMessageColumns = `
		SELECT id, sender, recipient, body, status, created_at, delivered_at, delivered_via
		FROM messages
	`

	SelectMessageByIDQuery = selectMessageColumns + `
		WHERE id = ?
	`

	SelectPendingByRecipientQuery = selectMessageColumns + `
		WHERE recipient = ? AND status = 'pending'
		ORDER BY id ASC
	`

	// MarkDeliveredQueryPrefix is completed with one placeholder per id
	MarkDeliveredQueryPrefix = `
		UPDATE messages
		SET status = 'delivered', delivered_at = ?, delivered_via = ?
		WHERE recipient = ? AND status = 'pending' AND id IN (`

	CountPendingByRecipientQuery = `
		SELECT COUNT(*) FROM messages
		WHERE recipient = ? AND status = 'pending'
	`

	CountStalePendingQuery = `
		SELECT COUNT(*) FROM messages
		WHERE status = 'pending' AND created_at < ?
	`

	DeleteDeliveredBeforeQuery = `
		DELETE FROM messages
		WHERE status = 'delivered' AND delivered_at < ?
	`
)

// maxIDsPerStatement keeps IN lists below SQLite's host parameter limit
const maxIDsPerStatement = 500
