package chat

import (
	"hash/fnv"
)

// 连续丢帧超过该值的连接视为死连接，直接关闭（读循环随后走断连清理）。
const backlogDropLimit = 32

type fanoutJob struct {
	conns   []*Client
	payload []byte
	exclude string
}

// Fanout delivers one payload to many connections without ever blocking the
// broadcaster. Jobs for the same key always land on the same worker, so one
// sender's events reach a room in dispatch order.
type Fanout struct {
	workers []chan fanoutJob
}

// NewFanout workers<=0 切换为同步投递（单测以及极小部署用）。
func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{}
	if workers <= 0 {
		return f
	}
	if queue <= 0 {
		queue = 1024
	}
	f.workers = make([]chan fanoutJob, workers)
	for i := range f.workers {
		ch := make(chan fanoutJob, queue)
		f.workers[i] = ch
		go func() {
			for job := range ch {
				deliver(job)
			}
		}()
	}
	return f
}

// Broadcast 按 key（通常是房间ID或用户ID）路由到固定 worker。
func (f *Fanout) Broadcast(key string, conns []*Client, payload []byte, exclude string) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	job := fanoutJob{conns: conns, payload: payload, exclude: exclude}
	if len(f.workers) == 0 {
		deliver(job)
		return
	}
	f.workers[hashKey(key)%uint32(len(f.workers))] <- job
}

func (f *Fanout) Close() {
	for _, ch := range f.workers {
		close(ch)
	}
	f.workers = nil
}

func deliver(job fanoutJob) {
	for _, c := range job.conns {
		if job.exclude != "" && c.ConnID == job.exclude {
			continue
		}
		if !c.TrySend(job.payload) && c.Backlogged(backlogDropLimit) {
			c.Close()
		}
	}
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}
