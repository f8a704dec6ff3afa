package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

func queuedNote(w io.Writer, a synckit.OfflineAction) {
	fmt.Fprintf(w, "%s queued as %s; run `offlinekit sync` to send it\n", faint("↳"), a.ID)
}

// NewProductsCommand lists the cached catalog.
func NewProductsCommand(opts *RootOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List cached products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				var products []synckit.Product
				for _, prod := range a.engine.Products() {
					if category == "" || prod.CategoryID == category {
						products = append(products, prod)
					}
				}
				return p.emit(products, func(w io.Writer) {
					if len(products) == 0 {
						fmt.Fprintln(w, "No cached products; run `offlinekit refresh products`")
						return
					}
					p.table("ID\tSKU\tNAME\tPRICE\tSTOCK", func(tw io.Writer) {
						for _, prod := range products {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\n",
								prod.ID, prod.SKU, truncate(prod.Name, 40), prod.Price, prod.StockQuantity)
						}
					})
				})
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only products in this category id")
	return cmd
}

// NewCartCommand creates the cart command group.
func NewCartCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show and edit the cart (works offline)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				return printCart(p, a.engine.Cart())
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <product-id> [quantity]",
		Short: "Add a product to the cart",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("quantity must be a number: %w", err)
				}
				qty = n
			}
			return withApp(cmd, opts, func(a *app, p *printer) error {
				action, err := a.engine.AddToCart(cmd.Context(), args[0], qty)
				if action.ID == "" {
					return err
				}
				if err := printCart(p, a.engine.Cart()); err != nil {
					return err
				}
				queuedNote(p.w, action)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update <product-id> <quantity>",
		Short: "Set the quantity of a cart line (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity must be a number: %w", err)
			}
			return withApp(cmd, opts, func(a *app, p *printer) error {
				action, err := a.engine.UpdateCartItem(cmd.Context(), args[0], qty)
				if action.ID == "" {
					return err
				}
				if err := printCart(p, a.engine.Cart()); err != nil {
					return err
				}
				queuedNote(p.w, action)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				action, err := a.engine.ClearCart(cmd.Context())
				if action.ID == "" {
					return err
				}
				fmt.Fprintln(p.w, "Cart cleared")
				queuedNote(p.w, action)
				return err
			})
		},
	})
	return cmd
}

func printCart(p *printer, cart []synckit.CartItem) error {
	return p.emit(cart, func(w io.Writer) {
		if len(cart) == 0 {
			fmt.Fprintln(w, "Cart is empty")
			return
		}
		var total float64
		p.table("PRODUCT\tNAME\tQTY\tPRICE", func(tw io.Writer) {
			for _, item := range cart {
				name, price := "", 0.0
				if item.Product != nil {
					name, price = item.Product.Name, item.Product.Price
				}
				total += price * float64(item.Quantity)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\n", item.ProductID, truncate(name, 40), item.Quantity, price)
			}
		})
		fmt.Fprintf(w, "%s %.2f (+ %.2f shipping)\n", bold("Subtotal:"), total, synckit.DefaultShippingCost)
	})
}

// NewFavoriteCommand creates the favorite command group.
func NewFavoriteCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorite",
		Aliases: []string{"favorites"},
		Short:   "List or toggle favorite products",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				favs := a.engine.Favorites()
				return p.emit(favs, func(w io.Writer) {
					if len(favs) == 0 {
						fmt.Fprintln(w, "No favorites")
						return
					}
					for _, f := range favs {
						name := ""
						if f.Product != nil {
							name = f.Product.Name
						}
						fmt.Fprintf(w, "%s %s %s\n", yellow("★"), f.ProductID, name)
					}
				})
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <product-id>",
		Short: "Flip the favorite state of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				favored, action, err := a.engine.ToggleFavorite(cmd.Context(), args[0])
				if action.ID == "" {
					return err
				}
				state := "removed from"
				if favored {
					state = "added to"
				}
				fmt.Fprintf(p.w, "%s %s favorites\n", args[0], state)
				queuedNote(p.w, action)
				return err
			})
		},
	})
	return cmd
}

// NewOrderCommand creates the order command group.
func NewOrderCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "order",
		Aliases: []string{"orders"},
		Short:   "List orders or place one from the cart",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				orders := a.engine.Orders()
				return p.emit(orders, func(w io.Writer) {
					if len(orders) == 0 {
						fmt.Fprintln(w, "No orders")
						return
					}
					p.table("ID\tNUMBER\tSTATUS\tTOTAL\tPLACED", func(tw io.Writer) {
						for _, o := range orders {
							number := o.OrderNumber
							if o.Local {
								number = yellow("(not sent)")
							}
							fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", o.ID, number, o.Status, o.Total, since(o.CreatedAt))
						}
					})
				})
			})
		},
	}

	var req synckit.OrderRequest
	place := &cobra.Command{
		Use:   "place",
		Short: "Place an order from the current cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app, p *printer) error {
				order, action, err := a.engine.CreateOrder(cmd.Context(), req)
				if action.ID == "" {
					return err
				}
				if perr := p.emit(order, func(w io.Writer) {
					fmt.Fprintf(w, "Order %s placed: %d item(s), total %.2f\n", order.ID, len(order.Items), order.Total)
					queuedNote(w, action)
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	f := place.Flags()
	f.StringVar(&req.FirstName, "first-name", "", "customer first name")
	f.StringVar(&req.LastName, "last-name", "", "customer last name")
	f.StringVar(&req.Email, "email", "", "customer email")
	f.StringVar(&req.Phone, "phone", "", "customer phone")
	f.StringVar(&req.StreetAddress, "street", "", "delivery street address")
	f.StringVar(&req.City, "city", "", "delivery city")
	f.StringVar(&req.State, "state", "", "delivery state")
	f.StringVar(&req.Country, "country", "", "delivery country (default Egypt)")
	f.StringVar(&req.DeliveryInstructions, "instructions", "", "delivery instructions")
	f.StringVar(&req.PaymentMethod, "payment", "", "payment method (default cash_on_delivery)")
	f.StringVar(&req.Notes, "notes", "", "order notes")
	cmd.AddCommand(place)
	return cmd
}
