package queue

import "fmt"

func PendingKey(name string) string {
	return fmt.Sprintf("queue:%s", name)
}

func ProcessingKey(name, consumer string) string {
	return fmt.Sprintf("queue:%s:processing:%s", name, consumer)
}

func HeartbeatKey(name, consumer string) string {
	return fmt.Sprintf("queue:%s:consumer:%s", name, consumer)
}
