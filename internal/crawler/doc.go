// Package crawler walks the paginated catalog listing and mirrors every item
// into the catalog store. A full sync visits pages 1..N in order and stops at
// the first page without a next-page marker.
package crawler
