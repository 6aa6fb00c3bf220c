// Package api exposes the backup, restore and disaster-recovery operations
// over HTTP. Everything under /api/v1 requires an X-API-Key header; the
// download route is authorised by its token alone.
package api
