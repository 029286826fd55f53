package control

import "fmt"

// MMStat formats the mm_stat tuple: ordered, whitespace-delimited, matching the
// fixed-column layout every other stat attribute uses.
func MMStat(origDataSize, comprDataSize, memUsedTotal int64, memLimit, memUsedMax int64, samePages, pagesCompacted, hugePages int64) string {
	return fmt.Sprintf("%d %d %d %d %d %d %d %d",
		origDataSize, comprDataSize, memUsedTotal, memLimit, memUsedMax, samePages, pagesCompacted, hugePages)
}

// IOStat formats the io_stat tuple: failed reads, failed writes, invalid io, notify free.
func IOStat(failedReads, failedWrites, invalidIO, notifyFree int64) string {
	return fmt.Sprintf("%d %d %d %d", failedReads, failedWrites, invalidIO, notifyFree)
}

// BDStat formats the bd_stat tuple: backing block count, bd_reads, bd_writes, all in
// 4K-page units.
func BDStat(count, reads, writes int64) string {
	return fmt.Sprintf("%d %d %d", count, reads, writes)
}

// DebugStat formats the debug_stat line: currently just the write-stall counter, kept
// as its own attribute since the kernel driver reserves the slot for future counters.
func DebugStat(writestall int64) string {
	return fmt.Sprintf("version: 1\n%d", writestall)
}
