package transport

import "context"

// core is the minimal point-to-point surface Gather/Broadcast/Barrier are
// built from; both Memory and Relt implement it and share this logic
// rather than re-deriving the collective algorithms twice.
type core interface {
	Rank() int
	Size() int
	Send(ctx context.Context, to int, tag Tag, payload []byte) error
	Recv(ctx context.Context, from int, tag Tag) ([]byte, error)
}

func gatherOver(ctx context.Context, c core, root, epoch int, payload []byte) ([][]byte, error) {
	tag := gatherTag(epoch)
	if c.Rank() == root {
		out := make([][]byte, c.Size())
		out[root] = payload
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			p, err := c.Recv(ctx, r, tag)
			if err != nil {
				return nil, err
			}
			out[r] = p
		}
		return out, nil
	}
	if err := c.Send(ctx, root, tag, payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func broadcastOver(ctx context.Context, c core, root, epoch int, payload []byte) ([]byte, error) {
	tag := broadcastTag(epoch)
	if c.Rank() == root {
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			if err := c.Send(ctx, r, tag, payload); err != nil {
				return nil, err
			}
		}
		return payload, nil
	}
	return c.Recv(ctx, root, tag)
}

func barrierOver(ctx context.Context, c core, group []int, epoch int) error {
	g := group
	if g == nil {
		g = make([]int, c.Size())
		for i := range g {
			g[i] = i
		}
	}
	root := g[0]
	gtag := barrierGatherTag(epoch)
	btag := barrierBcastTag(epoch)

	if c.Rank() == root {
		for _, r := range g {
			if r == root {
				continue
			}
			if _, err := c.Recv(ctx, r, gtag); err != nil {
				return err
			}
		}
		for _, r := range g {
			if r == root {
				continue
			}
			if err := c.Send(ctx, r, btag, nil); err != nil {
				return err
			}
		}
		return nil
	}
	if err := c.Send(ctx, root, gtag, nil); err != nil {
		return err
	}
	_, err := c.Recv(ctx, root, btag)
	return err
}
