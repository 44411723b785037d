package redisstore

import "fmt"

// Key layout, all under a configurable prefix:
//
//	{prefix}:projects                      set of project ids with state
//	{prefix}:reservation:{project}:{id}    hash: requester_id, mode, expires_at, body
//	{prefix}:expiry:{project}              zset of reservation ids scored by expiry (unix ms)
//	{prefix}:conflict:{project}:{id}       string: conflict JSON
//	{prefix}:conflicts:{project}           zset of conflict ids scored by detection time (unix ms)

func ProjectsKey(prefix string) string {
	return fmt.Sprintf("%s:projects", prefix)
}

func ReservationKey(prefix, project, id string) string {
	return fmt.Sprintf("%s:reservation:%s:%s", prefix, project, id)
}

func ExpiryKey(prefix, project string) string {
	return fmt.Sprintf("%s:expiry:%s", prefix, project)
}

func ConflictKey(prefix, project, id string) string {
	return fmt.Sprintf("%s:conflict:%s:%s", prefix, project, id)
}

func ConflictIndexKey(prefix, project string) string {
	return fmt.Sprintf("%s:conflicts:%s", prefix, project)
}
