package routeros_test

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Zereker/routeros"
	"github.com/Zereker/routeros/apitest"
	"github.com/Zereker/routeros/query"
	"github.com/Zereker/routeros/util"
)

// startDevice serves a fake router with two simple queues on a loopback port.
func startDevice(ctx context.Context) (string, func()) {
	device := apitest.NewDevice(apitest.WithCredentials("admin", "secret"))
	device.HandleCommand("/queue/simple/print", func(ctx context.Context, cmd *apitest.Command, w *apitest.ReplyWriter) error {
		queues := [][]string{
			{".id", "*1", "name", "q1", "target", "10.0.0.1/32"},
			{".id", "*2", "name", "q2", "target", "10.0.0.2/32"},
		}
		for _, q := range queues {
			if len(cmd.Query) > 0 && cmd.Query[0] != "?name="+q[3] {
				continue
			}
			if err := w.Re(q...); err != nil {
				return err
			}
		}
		return nil
	})
	device.HandleCommand("/tool/torch", func(ctx context.Context, cmd *apitest.Command, w *apitest.ReplyWriter) error {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := w.Re("rx", "1200"); err != nil {
					return err
				}
			}
		}
	})

	server, err := apitest.New(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(ctx)
	go server.Serve(ctx, device)

	return server.Address(), func() {
		cancel()
		server.Close()
	}
}

func Example() {
	ctx := context.Background()
	addr, stop := startDevice(ctx)
	defer stop()

	client, err := routeros.Dial(ctx, routeros.Config{
		Address:  addr,
		Username: "admin",
		Password: "secret",
	})
	if err != nil {
		fmt.Println("dial:", err)
		return
	}
	defer client.Close()

	replies, err := client.SendSync(ctx, routeros.NewRequest("/queue/simple/print").
		SetQuery(query.Where("name", "q1")))
	if err != nil {
		fmt.Println("print:", err)
		return
	}
	for _, item := range replies.Data() {
		fmt.Println(item.Get("name"), item.Get("target"))
	}
	// Output: q1 10.0.0.1/32
}

func ExampleClient_SendAsync() {
	ctx := context.Background()
	addr, stop := startDevice(ctx)
	defer stop()

	client, err := routeros.Dial(ctx, routeros.Config{Address: addr, Username: "admin", Password: "secret"})
	if err != nil {
		fmt.Println("dial:", err)
		return
	}
	defer client.Close()

	samples := make(chan string, 16)
	call, err := client.SendAsync(ctx, routeros.NewRequest("/tool/torch", "interface", "ether1"), func(resp *routeros.Response) {
		if resp.Kind == routeros.ReplyData {
			select {
			case samples <- resp.Get("rx"):
			default:
			}
		}
	})
	if err != nil {
		fmt.Println("torch:", err)
		return
	}

	fmt.Println("rx", <-samples)
	if err := call.Cancel(ctx); err != nil {
		fmt.Println("cancel:", err)
		return
	}
	<-call.Done()
	fmt.Println(call.State(), call.Err())
	// Output:
	// rx 1200
	// cancelled routeros: request cancelled
}

func Example_util() {
	ctx := context.Background()
	addr, stop := startDevice(ctx)
	defer stop()

	client, err := routeros.Dial(ctx, routeros.Config{Address: addr, Username: "admin", Password: "secret"})
	if err != nil {
		fmt.Println("dial:", err)
		return
	}
	defer client.Close()

	u := util.New(client).SetMenu("/queue simple")
	ids, err := u.Find(ctx, util.ByList("0,1"))
	if err != nil {
		fmt.Println("find:", err)
		return
	}
	fmt.Println(u.Menu(), ids)
	// Output: /queue/simple *1,*2
}
